package store

import (
	"context"

	pgvector "github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/incentive-match/internal/db"
	"github.com/sells-group/incentive-match/internal/model"
)

// ForEachUnembeddedCompany pages through companies without an embedding in
// id order, calling fn once per page. Paging is keyset based so rows
// updated by fn never shift later pages.
func (s *PostgresStore) ForEachUnembeddedCompany(ctx context.Context, pageSize int, fn func([]model.Company) error) error {
	if pageSize <= 0 {
		pageSize = 2000
	}

	var last int64
	for {
		page, err := s.unembeddedPage(ctx, last, pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		last = page[len(page)-1].ID
		if len(page) < pageSize {
			return nil
		}
	}
}

func (s *PostgresStore) unembeddedPage(ctx context.Context, after int64, limit int) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, coalesce(company_name,''), coalesce(cae_primary_label,''), coalesce(trade_description_native,'')
		FROM companies
		WHERE embedding IS NULL AND id > $1
		ORDER BY id
		LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unembedded companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.CAEPrimaryLabel, &c.TradeDescription); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list unembedded companies iterate")
}

// UpdateCompanyEmbeddings writes all vectors in one transaction.
func (s *PostgresStore) UpdateCompanyEmbeddings(ctx context.Context, updates []EmbeddingUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = []any{u.ID, pgvector.NewVector(u.Vector)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin embeddings update")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.BatchUpdate(ctx, tx, db.UpdateConfig{
		Table:   "companies",
		Key:     "id",
		Columns: []string{"embedding"},
		Types:   []string{"bigint", "vector"},
	}, rows); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit embeddings update")
}
