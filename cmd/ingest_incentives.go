package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/incentive-match/internal/eligibility"
	"github.com/sells-group/incentive-match/internal/llm"
)

var ingestIncentivesCmd = &cobra.Command{
	Use:   "ingest-incentives",
	Short: "Embed incentives and extract their eligibility documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("ingest-incentives"); err != nil {
			return err
		}
		ctx := cmd.Context()

		completer, err := llm.NewCompleter(cfg)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ledger, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close() //nolint:errcheck

		ex, err := eligibility.NewExtractor(st, llm.NewEmbedder(cfg), completer, ledger, eligibility.Config{
			MaxChars:  cfg.Eligibility.MaxChars,
			Dimension: cfg.LLM.EmbeddingDim,
			Pace:      time.Duration(cfg.Eligibility.PaceMs) * time.Millisecond,
		})
		if err != nil {
			return err
		}

		stats, err := ex.Run(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("incentive ingestion done",
			zap.Int("total", stats.Total),
			zap.Int("updated", stats.Updated),
			zap.Int("failed", stats.Failed),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestIncentivesCmd)
}
