// Package store is the Postgres datastore holding incentives, companies
// and their precomputed matches.
package store

import (
	"context"
	"errors"

	"github.com/sells-group/incentive-match/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// EmbeddingUpdate is one company vector to persist.
type EmbeddingUpdate struct {
	ID     int64
	Vector []float32
}

// CompanyStore reads unembedded companies and writes their vectors.
type CompanyStore interface {
	ForEachUnembeddedCompany(ctx context.Context, pageSize int, fn func([]model.Company) error) error
	UpdateCompanyEmbeddings(ctx context.Context, updates []EmbeddingUpdate) error
	CountCompanies(ctx context.Context) (int, error)
}

// IncentiveStore covers incentive ingestion and lookup.
type IncentiveStore interface {
	IncentivesNeedingIngestion(ctx context.Context) ([]model.Incentive, error)
	UpdateIncentiveIngestion(ctx context.Context, id int64, vector []float32, elig *model.Eligibility) error
	ListExplainable(ctx context.Context) ([]model.Incentive, error)
	GetIncentive(ctx context.Context, id int64) (*model.Incentive, error)
	CountIncentives(ctx context.Context) (int, error)
}

// MatchStore covers the precomputed incentive/company candidates.
type MatchStore interface {
	ListCandidates(ctx context.Context, incentiveID int64, limit int) ([]model.MatchCandidate, error)
	ApplyRanks(ctx context.Context, incentiveID int64, updates []model.RankUpdate) error
	MatchesForIncentive(ctx context.Context, incentiveID int64) ([]model.MatchCandidate, error)
	NonCompliantMatches(ctx context.Context, limit int) ([]model.MatchAudit, error)
}

// SearchStore backs the retrieval tiers.
type SearchStore interface {
	FindIncentive(ctx context.Context, id int64) (*model.IncentiveStub, error)
	SearchSubstring(ctx context.Context, q string, limit int) ([]model.IncentiveStub, int, error)
	SearchFullText(ctx context.Context, terms string, limit int) ([]model.IncentiveStub, int, error)
	Recent(ctx context.Context, limit int) ([]model.IncentiveStub, error)
	CountIncentives(ctx context.Context) (int, error)
	CountCompanies(ctx context.Context) (int, error)
}

// Store is the full datastore contract.
type Store interface {
	CompanyStore
	IncentiveStore
	MatchStore
	SearchStore

	ExecScript(ctx context.Context, sql string) error
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
