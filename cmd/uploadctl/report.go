package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/uploadcore/internal/report"
)

func newReportCmd() *cobra.Command {
	var summaryPath, pdfPath string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a decode summary as PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := report.LoadSummaryJSON(summaryPath)
			if err != nil {
				return fmt.Errorf("load summary: %w", err)
			}
			if err := report.SaveSummaryPDF(sum, pdfPath); err != nil {
				return fmt.Errorf("write pdf: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote PDF:", pdfPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&summaryPath, "summary", "", "summary JSON from decode (required)")
	cmd.Flags().StringVar(&pdfPath, "pdf", "summary.pdf", "output PDF")
	cmd.MarkFlagRequired("summary")
	return cmd
}
