package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/incentive-match/internal/embedding"
	"github.com/sells-group/incentive-match/internal/llm"
	"github.com/sells-group/incentive-match/internal/resilience"
)

var embedCompaniesCmd = &cobra.Command{
	Use:   "embed-companies",
	Short: "Embed every company that has no embedding yet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("embed-companies"); err != nil {
			return err
		}
		ctx := cmd.Context()

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

		batcher := embedding.NewBatcher(st, llm.NewEmbedder(cfg), ledger, embedding.Config{
			BatchSize:  cfg.Embedding.BatchSize,
			CommitSize: cfg.Embedding.CommitSize,
			PageSize:   cfg.Embedding.PageSize,
			MaxChars:   cfg.Embedding.MaxChars,
			Dimension:  cfg.LLM.EmbeddingDim,
			Retry:      resilience.EmbeddingRetryConfig(),
		})

		n, err := batcher.Run(ctx)
		if err != nil {
			return eris.Wrapf(err, "embed-companies: stopped after %d rows", n)
		}
		zap.L().Info("company embeddings done", zap.Int("rows", n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(embedCompaniesCmd)
}
