package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"example.com/uploadcore/internal/lzo"
)

func newLZOCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lzo",
		Short: "Compress or decompress LZO1X data",
	}
	cmd.AddCommand(
		lzoSubCmd("compress", "Compress a file with LZO1X-1", lzo.Compress),
		lzoSubCmd("decompress", "Decompress an LZO1X file", lzo.Decompress),
	)
	return cmd
}

func lzoSubCmd(name, short string, fn func([]byte, int) ([]byte, error)) *cobra.Command {
	var in, out string
	var length int
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			dst, err := fn(src, length)
			if err != nil {
				return fmt.Errorf("%s %s: %w", name, in, err)
			}
			if err := os.WriteFile(out, dst, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d -> %d bytes\n", name, len(src), len(dst))
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "input file (required)")
	cmd.Flags().StringVar(&out, "out", "", "output file (required)")
	cmd.Flags().IntVar(&length, "length", 0, "output size limit; 0 for none")
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("out")
	return cmd
}
