package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/incentive-match/internal/explain"
	"github.com/sells-group/incentive-match/internal/llm"
	"github.com/sells-group/incentive-match/internal/resilience"
)

var explainMatchesCmd = &cobra.Command{
	Use:   "explain-matches",
	Short: "Re-rank the top candidates of each incentive and store explanations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("explain-matches"); err != nil {
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

		retry := resilience.FromRetryConfig(cfg.Explain.Retries, cfg.Explain.BackoffMs, 0, 0, true)

		ex := explain.NewExplainer(st, completer, ledger, explain.Config{
			TopK:    cfg.Explain.TopK,
			MaxText: cfg.Explain.MaxText,
			Pace:    time.Duration(cfg.Explain.PaceMs) * time.Millisecond,
			Retry:   retry,
		})

		stats, err := ex.Run(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("explain done",
			zap.Int("total", stats.Total),
			zap.Int("updated", stats.Updated),
			zap.Int("no_candidates", stats.NoCandidates),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(explainMatchesCmd)
}
