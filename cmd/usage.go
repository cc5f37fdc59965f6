package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/incentive-match/internal/model"
	"github.com/sells-group/incentive-match/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect the model usage log",
}

var usageReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize tokens and estimated cost per source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			path = cfg.Usage.Path
		}
		xlsxPath, _ := cmd.Flags().GetString("xlsx")

		records, err := readUsage(cmd.Context(), cfg.Usage.Sink, path)
		if err != nil {
			return err
		}

		summary := usage.Summarize(records)
		fmt.Fprintf(os.Stdout, "Usage report — %s\n\n", path)
		if err := summary.WriteTable(os.Stdout); err != nil {
			return err
		}
		if xlsxPath != "" {
			if err := summary.WriteXLSX(xlsxPath); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n", xlsxPath)
		}
		return nil
	},
}

func readUsage(ctx context.Context, sink, path string) ([]model.UsageRecord, error) {
	if sink == "sqlite" {
		s, err := usage.NewSQLiteSink(ctx, path)
		if err != nil {
			return nil, err
		}
		defer s.Close() //nolint:errcheck
		return s.Records(ctx)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "usage report: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return usage.ReadCSV(f)
}

func init() {
	usageReportCmd.Flags().String("path", "", "usage log path (default from config)")
	usageReportCmd.Flags().String("xlsx", "", "also export the summary to this .xlsx file")
	usageCmd.AddCommand(usageReportCmd)
	rootCmd.AddCommand(usageCmd)
}
