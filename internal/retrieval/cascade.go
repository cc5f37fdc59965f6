// Package retrieval resolves a free-text question to the incentives that
// ground an answer.
package retrieval

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/incentive-match/internal/metrics"
	"github.com/sells-group/incentive-match/internal/model"
)

// Store is the part of the datastore the cascade reads.
type Store interface {
	FindIncentive(ctx context.Context, id int64) (*model.IncentiveStub, error)
	SearchSubstring(ctx context.Context, q string, limit int) ([]model.IncentiveStub, int, error)
	SearchFullText(ctx context.Context, terms string, limit int) ([]model.IncentiveStub, int, error)
	Recent(ctx context.Context, limit int) ([]model.IncentiveStub, error)
	CountIncentives(ctx context.Context) (int, error)
	CountCompanies(ctx context.Context) (int, error)
	MatchesForIncentive(ctx context.Context, incentiveID int64) ([]model.MatchCandidate, error)
}

// Config tunes the cascade.
type Config struct {
	DefaultLimit int
	MinMatch     int
}

// Cascade tries its tiers in order and post-processes the first hit.
type Cascade struct {
	store Store
	tiers []Tier
	cfg   Config
}

// NewCascade creates a Cascade over the standard tiers.
func NewCascade(st Store, cfg Config) *Cascade {
	return NewCascadeWithTiers(st, cfg,
		ExactTier{Store: st},
		SubstringTier{Store: st},
		FullTextTier{Store: st},
		FallbackTier{Store: st},
	)
}

// NewCascadeWithTiers creates a Cascade with a custom tier list. st is still
// used for totals and company matches.
func NewCascadeWithTiers(st Store, cfg Config, tiers ...Tier) *Cascade {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	if cfg.MinMatch <= 0 {
		cfg.MinMatch = 1
	}
	return &Cascade{store: st, tiers: tiers, cfg: cfg}
}

// Resolve runs the tiers for question and applies, in order, the
// minimum-match threshold and how-to pruning.
func (c *Cascade) Resolve(ctx context.Context, question string, limit int) (*model.Resolution, error) {
	if limit <= 0 {
		limit = c.cfg.DefaultLimit
	}
	q := Query{Question: ParseQuestion(question), Limit: limit}

	res := &model.Resolution{
		ExactReference: q.HasReference,
		SkipCompanies:  q.SkipCompanies(),
	}
	for _, tier := range c.tiers {
		hit, ok, err := tier.Try(ctx, q)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		res.Tier = tier.Name()
		res.Incentives = hit.Incentives
		res.MatchCount = hit.MatchCount
		break
	}
	if res.Tier != "" {
		metrics.TierHits.WithLabelValues(res.Tier).Inc()
	}

	if res.MatchCount < c.cfg.MinMatch {
		res.Incentives = nil
		res.MatchCount = 0
	}
	if q.SkipCompanies() && !q.HasReference {
		if len(res.Incentives) > 1 {
			res.Incentives = res.Incentives[:1]
		}
		res.MatchCount = min(res.MatchCount, len(res.Incentives))
	}

	var err error
	if res.TotalIncentives, err = c.store.CountIncentives(ctx); err != nil {
		return nil, eris.Wrap(err, "retrieval: count incentives")
	}
	if res.TotalCompanies, err = c.store.CountCompanies(ctx); err != nil {
		return nil, eris.Wrap(err, "retrieval: count companies")
	}

	zap.L().Debug("question resolved",
		zap.String("tier", res.Tier),
		zap.Int("incentives", len(res.Incentives)),
		zap.Int("match_count", res.MatchCount),
		zap.Bool("exact_reference", res.ExactReference),
	)
	return res, nil
}

// Contexts turns a resolution into context items. Company matches are
// attached in rank order unless the resolution skips them.
func (c *Cascade) Contexts(ctx context.Context, res *model.Resolution) ([]model.ContextItem, error) {
	items := make([]model.ContextItem, 0, len(res.Incentives))
	for _, inc := range res.Incentives {
		item := model.ContextItem{
			IncentiveID: inc.ID,
			Title:       inc.Title,
			Description: inc.Description,
			Matches:     []model.ContextMatch{},
		}
		if !res.SkipCompanies {
			cands, err := c.store.MatchesForIncentive(ctx, inc.ID)
			if err != nil {
				return nil, eris.Wrapf(err, "retrieval: matches for %d", inc.ID)
			}
			for _, m := range cands {
				why := ""
				if m.Explanation != nil {
					why = *m.Explanation
				}
				item.Matches = append(item.Matches, model.ContextMatch{
					Rank:    m.Rank,
					Company: m.CompanyName,
					CAE:     m.CAELabel,
					Why:     why,
				})
			}
		}
		items = append(items, item)
	}
	return items, nil
}
