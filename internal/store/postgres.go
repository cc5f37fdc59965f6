package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/incentive-match/internal/db"
)

const defaultFTSLanguage = "portuguese"

// Text search configuration names are inlined into SQL so the GIN index
// expression matches the queries.
var languagePattern = regexp.MustCompile(`^[a-z_]+$`)

func ftsLanguage(name string) string {
	if !languagePattern.MatchString(name) {
		return defaultFTSLanguage
	}
	return name
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool     db.Pool
	closeFn  func()
	language string
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
	// FTSLanguage is the text search configuration of the full-text tier.
	FTSLanguage string
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	language := ""
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
		language = poolCfg.FTSLanguage
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, language: ftsLanguage(language)}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool db.Pool, language string) *PostgresStore {
	return &PostgresStore{pool: pool, language: ftsLanguage(language)}
}

var _ Store = (*PostgresStore)(nil)

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS incentives (
	incentive_pk         BIGSERIAL PRIMARY KEY,
	title                TEXT NOT NULL DEFAULT '',
	description          TEXT,
	ai_description       TEXT,
	eligibility_criteria TEXT,
	eligibility          JSONB,
	embedding            vector(1536),
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS companies (
	id                       BIGSERIAL PRIMARY KEY,
	company_name             TEXT NOT NULL DEFAULT '',
	cae_primary_label        TEXT,
	trade_description_native TEXT,
	embedding                vector(1536)
);

CREATE TABLE IF NOT EXISTS matches (
	incentive_id BIGINT NOT NULL REFERENCES incentives(incentive_pk) ON DELETE CASCADE,
	company_id   BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	rank         INT NOT NULL DEFAULT 0,
	rule_pass    JSONB,
	explanation  TEXT,
	PRIMARY KEY (incentive_id, company_id)
);

CREATE INDEX IF NOT EXISTS idx_companies_unembedded ON companies(id) WHERE embedding IS NULL;
CREATE INDEX IF NOT EXISTS idx_matches_incentive_rank ON matches(incentive_id, rank);
CREATE INDEX IF NOT EXISTS idx_matches_score ON matches(score DESC);
CREATE INDEX IF NOT EXISTS idx_incentives_fts ON incentives USING GIN (%s);
`

// incentiveDocument is the text searched by the full-text tier.
func incentiveDocument(language string) string {
	return fmt.Sprintf(`to_tsvector('%s', `+
		`coalesce(title,'') || ' ' || `+
		`coalesce(description,'') || ' ' || `+
		`coalesce(ai_description,'') || ' ' || `+
		`coalesce(eligibility_criteria,'') || ' ' || `+
		`coalesce(eligibility::text,''))`, language)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(postgresMigration, incentiveDocument(s.language)))
	return eris.Wrap(err, "postgres: migrate")
}

// ExecScript runs a caller-supplied SQL script, such as the scoring query
// that populates matches.
func (s *PostgresStore) ExecScript(ctx context.Context, sql string) error {
	if sql == "" {
		return eris.New("postgres: empty script")
	}
	_, err := s.pool.Exec(ctx, sql)
	return eris.Wrap(err, "postgres: exec script")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "postgres: count %s", table)
	}
	return n, nil
}

func (s *PostgresStore) CountIncentives(ctx context.Context) (int, error) {
	return s.count(ctx, "incentives")
}

func (s *PostgresStore) CountCompanies(ctx context.Context) (int, error) {
	return s.count(ctx, "companies")
}
