package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incentive-match/internal/cost"
	"github.com/sells-group/incentive-match/internal/store"
	"github.com/sells-group/incentive-match/internal/usage"
)

func initStore(ctx context.Context) (*store.PostgresStore, error) {
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns:    cfg.Store.MaxConns,
		MinConns:    cfg.Store.MinConns,
		FTSLanguage: cfg.Store.FTSLanguage,
	})
}

func pricing() *cost.Calculator {
	overrides := make(cost.Rates, len(cfg.Pricing.Models))
	for name, p := range cfg.Pricing.Models {
		overrides[name] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return cost.NewCalculator(cost.Merge(overrides))
}

func initSink(ctx context.Context) (usage.Sink, error) {
	switch cfg.Usage.Sink {
	case "", "csv":
		return usage.NewCSVSink(cfg.Usage.Path), nil
	case "sqlite":
		return usage.NewSQLiteSink(ctx, cfg.Usage.Path)
	default:
		return nil, eris.Errorf("unsupported usage sink: %s", cfg.Usage.Sink)
	}
}

func initLedger(ctx context.Context) (*usage.Ledger, error) {
	sink, err := initSink(ctx)
	if err != nil {
		return nil, err
	}
	return usage.NewLedger(sink, pricing()), nil
}
