package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/absfs/cryptdev"
	"github.com/spf13/cobra"
)

func newDecryptCommand(a *app) *cobra.Command {
	var (
		out    string
		offset int64
		length int64
	)

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt data from the target device into a file",
		Long: `Decrypt reads length bytes through the target starting at the given byte
offset and writes the plaintext to a file. Without --length it reads to the
end of the target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			if err := checkAligned("offset", offset); err != nil {
				return err
			}
			if length < 0 {
				return errors.New("--length cannot be negative")
			}
			return a.withTarget(func(target *cryptdev.Target) error {
				n, err := decryptFile(a, target, out, offset, length)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "decrypted %d bytes from offset %d\n", n, offset)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "plaintext output file")
	cmd.Flags().Int64Var(&offset, "offset", 0, "target byte offset, sector aligned")
	cmd.Flags().Int64Var(&length, "length", 0, "bytes to decrypt (0 reads to the end)")
	return cmd
}

func decryptFile(a *app, target *cryptdev.Target, path string, offset, length int64) (int64, error) {
	size, err := target.Size()
	if err != nil {
		return 0, err
	}
	if offset > size {
		return 0, fmt.Errorf("offset %d is past the end of the %d byte target", offset, size)
	}
	if length == 0 {
		length = size - offset
	}
	if offset+length > size {
		return 0, fmt.Errorf("%d bytes at offset %d exceed the %d byte target", length, offset, size)
	}

	f, err := a.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()

	buf := make([]byte, chunkSectors*cryptdev.SectorSize)
	var total int64
	for total < length {
		want := min(length-total, int64(len(buf)))
		chunk := buf[:sectorsFor(want)*cryptdev.SectorSize]
		if _, err := target.ReadAt(chunk, offset+total); err != nil {
			return total, fmt.Errorf("failed to read at offset %d: %w", offset+total, err)
		}
		if _, err := f.Write(chunk[:want]); err != nil {
			return total, fmt.Errorf("failed to write output: %w", err)
		}
		total += want
	}

	if err := f.Sync(); err != nil {
		return total, fmt.Errorf("failed to sync output: %w", err)
	}
	a.logger.WithField("bytes", total).Info("Decrypted target into output")
	return total, nil
}
