package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/incentive-match/internal/llm"
	"github.com/sells-group/incentive-match/internal/responder"
	"github.com/sells-group/incentive-match/internal/retrieval"
	"github.com/sells-group/incentive-match/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve streamed answers and record lookups over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

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

		cascade := retrieval.NewCascade(st, retrieval.Config{
			DefaultLimit: cfg.Retrieval.DefaultLimit,
			MinMatch:     cfg.Retrieval.MinMatch,
		})
		answers := responder.New(cascade, completer, ledger, responder.Config{
			DefaultLimit:    cfg.Retrieval.DefaultLimit,
			Temperature:     cfg.Responder.Temperature,
			MaxTokens:       cfg.Responder.MaxTokens,
			ContextMaxChars: cfg.Retrieval.ContextMaxChars,
		})

		srv := server.New(st, answers, cfg.Server.FrontendURL)
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
