package retrieval

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/incentive-match/internal/model"
	"github.com/sells-group/incentive-match/internal/store"
	"github.com/sells-group/incentive-match/internal/textnorm"
)

// Tier names, also used as metric labels.
const (
	TierExact     = "exact"
	TierSubstring = "substring"
	TierFullText  = "fulltext"
	TierFallback  = "fallback"
)

// Query is what a tier receives.
type Query struct {
	Question
	Limit int
}

// TierResult is the rows a tier found and the number of matching records.
type TierResult struct {
	Incentives []model.IncentiveStub
	MatchCount int
}

// Tier is one step of the cascade. ok reports a hit; the cascade stops at
// the first tier that hits.
type Tier interface {
	Name() string
	Try(ctx context.Context, q Query) (res *TierResult, ok bool, err error)
}

// ExactTier resolves an explicit "incentivo N" reference.
type ExactTier struct {
	Store interface {
		FindIncentive(ctx context.Context, id int64) (*model.IncentiveStub, error)
	}
}

// Name implements Tier.
func (ExactTier) Name() string { return TierExact }

// Try implements Tier.
func (t ExactTier) Try(ctx context.Context, q Query) (*TierResult, bool, error) {
	if !q.HasReference {
		return nil, false, nil
	}
	stub, err := t.Store.FindIncentive(ctx, q.Reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "retrieval: exact")
	}
	return &TierResult{Incentives: []model.IncentiveStub{*stub}, MatchCount: 1}, true, nil
}

// SubstringTier matches the whole question inside titles and descriptions.
type SubstringTier struct {
	Store interface {
		SearchSubstring(ctx context.Context, q string, limit int) ([]model.IncentiveStub, int, error)
	}
}

// Name implements Tier.
func (SubstringTier) Name() string { return TierSubstring }

// Try implements Tier.
func (t SubstringTier) Try(ctx context.Context, q Query) (*TierResult, bool, error) {
	if q.HasReference {
		return nil, false, nil
	}
	stubs, total, err := t.Store.SearchSubstring(ctx, q.Text, q.Limit)
	if err != nil {
		return nil, false, eris.Wrap(err, "retrieval: substring")
	}
	if total == 0 || len(stubs) == 0 {
		return nil, false, nil
	}
	return &TierResult{Incentives: stubs, MatchCount: total}, true, nil
}

// FullTextTier runs a ranked text search over the punctuation-free terms.
type FullTextTier struct {
	Store interface {
		SearchFullText(ctx context.Context, terms string, limit int) ([]model.IncentiveStub, int, error)
	}
}

// Name implements Tier.
func (FullTextTier) Name() string { return TierFullText }

// Try implements Tier.
func (t FullTextTier) Try(ctx context.Context, q Query) (*TierResult, bool, error) {
	if q.HasReference {
		return nil, false, nil
	}
	terms := textnorm.QueryTerms(q.Text)
	if terms == "" {
		return nil, false, nil
	}
	stubs, total, err := t.Store.SearchFullText(ctx, terms, q.Limit)
	if err != nil {
		return nil, false, eris.Wrap(err, "retrieval: full-text")
	}
	if len(stubs) == 0 {
		return nil, false, nil
	}
	return &TierResult{Incentives: stubs, MatchCount: total}, true, nil
}

// FallbackTier returns the newest incentives as filler. It always hits and
// never counts as a match.
type FallbackTier struct {
	Store interface {
		Recent(ctx context.Context, limit int) ([]model.IncentiveStub, error)
	}
}

// Name implements Tier.
func (FallbackTier) Name() string { return TierFallback }

// Try implements Tier.
func (t FallbackTier) Try(ctx context.Context, q Query) (*TierResult, bool, error) {
	stubs, err := t.Store.Recent(ctx, q.Limit)
	if err != nil {
		return nil, false, eris.Wrap(err, "retrieval: fallback")
	}
	return &TierResult{Incentives: stubs, MatchCount: 0}, true, nil
}
