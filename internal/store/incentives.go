package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/incentive-match/internal/model"
)

const incentiveColumns = `incentive_pk, coalesce(title,''), coalesce(description,''), coalesce(ai_description,''),
	coalesce(eligibility_criteria,''), eligibility::text, embedding IS NOT NULL, created_at`

func scanIncentive(row pgx.Row) (*model.Incentive, error) {
	var inc model.Incentive
	var elig *string
	if err := row.Scan(&inc.ID, &inc.Title, &inc.Description, &inc.AIDescription,
		&inc.EligibilityCriteria, &elig, &inc.HasEmbedding, &inc.CreatedAt); err != nil {
		return nil, err
	}
	if elig != nil {
		var doc model.Eligibility
		if err := json.Unmarshal([]byte(*elig), &doc); err != nil {
			// Hand-edited rows may hold non-conforming JSON.
			inc.Eligibility = model.EmptyEligibility()
		} else {
			inc.Eligibility = doc.Normalize()
		}
	}
	return &inc, nil
}

func (s *PostgresStore) listIncentives(ctx context.Context, where, op string) ([]model.Incentive, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+incentiveColumns+` FROM incentives WHERE `+where+` ORDER BY incentive_pk`)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var out []model.Incentive
	for rows.Next() {
		inc, err := scanIncentive(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan incentive")
		}
		out = append(out, *inc)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

// pendingIngestion matches incentives missing an embedding, or missing an
// eligibility document while having criteria to extract it from.
const pendingIngestion = `embedding IS NULL OR (eligibility IS NULL AND coalesce(eligibility_criteria,'') ~ '[^[:space:]]')`

// IncentivesNeedingIngestion lists incentives that still need embedding or
// eligibility extraction. Rows with blank criteria are done once embedded.
func (s *PostgresStore) IncentivesNeedingIngestion(ctx context.Context) ([]model.Incentive, error) {
	return s.listIncentives(ctx, pendingIngestion, "list incentives to ingest")
}

// ListExplainable lists incentives that already have an embedding.
func (s *PostgresStore) ListExplainable(ctx context.Context) ([]model.Incentive, error) {
	return s.listIncentives(ctx, `embedding IS NOT NULL`, "list explainable incentives")
}

// UpdateIncentiveIngestion stores the embedding and eligibility document of
// one incentive in a single statement. A nil document is stored as NULL.
func (s *PostgresStore) UpdateIncentiveIngestion(ctx context.Context, id int64, vector []float32, elig *model.Eligibility) error {
	var doc any
	if elig != nil {
		b, err := json.Marshal(elig)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal eligibility")
		}
		doc = string(b)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE incentives SET embedding = $1::vector, eligibility = $2::jsonb WHERE incentive_pk = $3`,
		pgvector.NewVector(vector), doc, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update incentive %d", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetIncentive returns one incentive or ErrNotFound.
func (s *PostgresStore) GetIncentive(ctx context.Context, id int64) (*model.Incentive, error) {
	inc, err := scanIncentive(s.pool.QueryRow(ctx,
		`SELECT `+incentiveColumns+` FROM incentives WHERE incentive_pk = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get incentive %d", id)
	}
	return inc, nil
}
