package main

import (
	"fmt"

	"github.com/absfs/cryptdev"
	"github.com/spf13/cobra"
)

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the target configuration",
		Long:  "Info prints the cipher, IV mode, offsets, underlying device and usable size. The key is never printed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withTarget(func(target *cryptdev.Target) error {
				size, err := target.Size()
				if err != nil {
					return err
				}
				info := target.Info()

				ivmode := info.IVMode
				if info.IVOpt != "" {
					ivmode += ":" + info.IVOpt
				}

				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "name:         %s\n", info.Name)
				fmt.Fprintf(w, "cipher:       %s-%s (%d-bit key)\n", info.Algorithm, cryptdev.ChainingModeCBC, info.KeyBits)
				fmt.Fprintf(w, "iv mode:      %s\n", ivmode)
				fmt.Fprintf(w, "iv offset:    %d\n", info.IVOffset)
				fmt.Fprintf(w, "block offset: %d\n", info.BlockOffset)
				fmt.Fprintf(w, "device:       %s\n", info.Device)
				fmt.Fprintf(w, "size:         %d bytes (%d sectors)\n", size, size/cryptdev.SectorSize)
				return nil
			})
		},
	}
}
