package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/absfs/cryptdev"
	"github.com/spf13/cobra"
)

// chunkSectors is the number of sectors moved per request
const chunkSectors = 256

func newEncryptCommand(a *app) *cobra.Command {
	var (
		in     string
		offset int64
	)

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a plaintext file onto the target device",
		Long: `Encrypt reads a plaintext file and writes it through the target at the
given byte offset. The last sector is padded with zeros.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" {
				return errors.New("--in is required")
			}
			if err := checkAligned("offset", offset); err != nil {
				return err
			}
			return a.withTarget(func(target *cryptdev.Target) error {
				n, err := encryptFile(a, target, in, offset)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "encrypted %d bytes (%d sectors) at offset %d\n",
					n, sectorsFor(n), offset)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "plaintext input file")
	cmd.Flags().Int64Var(&offset, "offset", 0, "target byte offset, sector aligned")
	return cmd
}

func encryptFile(a *app, target *cryptdev.Target, path string, offset int64) (int64, error) {
	f, err := a.fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat input: %w", err)
	}
	size, err := target.Size()
	if err != nil {
		return 0, err
	}
	if need := offset + sectorsFor(info.Size())*cryptdev.SectorSize; need > size {
		return 0, fmt.Errorf("input of %d bytes at offset %d does not fit on a %d byte target", info.Size(), offset, size)
	}

	buf := make([]byte, chunkSectors*cryptdev.SectorSize)
	var total int64
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			// Zero pad the final partial sector
			padded := int(sectorsFor(int64(n))) * cryptdev.SectorSize
			clear(buf[n:padded])
			if _, werr := target.WriteAt(buf[:padded], offset+total); werr != nil {
				return total, fmt.Errorf("failed to write at offset %d: %w", offset+total, werr)
			}
			total += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("failed to read input: %w", err)
		}
	}

	if err := target.Flush(); err != nil {
		return total, fmt.Errorf("failed to flush target: %w", err)
	}
	a.logger.WithField("bytes", total).Info("Encrypted input onto target")
	return total, nil
}

func sectorsFor(n int64) int64 {
	return (n + cryptdev.SectorSize - 1) / cryptdev.SectorSize
}

func checkAligned(name string, v int64) error {
	if v < 0 || v%cryptdev.SectorSize != 0 {
		return fmt.Errorf("--%s must be a non-negative multiple of %d", name, cryptdev.SectorSize)
	}
	return nil
}
