package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/incentive-match/internal/model"
)

const stubColumns = `incentive_pk, coalesce(title,''), coalesce(ai_description, description, '')`

const substringPredicate = `title ILIKE $1 ESCAPE '\' OR coalesce(ai_description, description, '') ILIKE $1 ESCAPE '\'`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching q literally.
func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}

func scanStubs(rows pgx.Rows, op string) ([]model.IncentiveStub, error) {
	defer rows.Close()

	var out []model.IncentiveStub
	for rows.Next() {
		var st model.IncentiveStub
		if err := rows.Scan(&st.ID, &st.Title, &st.Description); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", op)
		}
		out = append(out, st)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

// FindIncentive returns the stub of one incentive or ErrNotFound.
func (s *PostgresStore) FindIncentive(ctx context.Context, id int64) (*model.IncentiveStub, error) {
	var st model.IncentiveStub
	err := s.pool.QueryRow(ctx,
		`SELECT `+stubColumns+` FROM incentives WHERE incentive_pk = $1`, id,
	).Scan(&st.ID, &st.Title, &st.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find incentive %d", id)
	}
	return &st, nil
}

// SearchSubstring matches q anywhere in the title or effective description,
// newest first. It also returns the total number of matching rows.
func (s *PostgresStore) SearchSubstring(ctx context.Context, q string, limit int) ([]model.IncentiveStub, int, error) {
	pattern := containsPattern(q)

	rows, err := s.pool.Query(ctx,
		`SELECT `+stubColumns+` FROM incentives WHERE `+substringPredicate+`
		ORDER BY incentive_pk DESC
		LIMIT $2`,
		pattern, limit,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: substring search")
	}
	stubs, err := scanStubs(rows, "substring search")
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM incentives WHERE `+substringPredicate, pattern,
	).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: substring count")
	}
	return stubs, total, nil
}

// SearchFullText ranks incentives against terms with the configured text
// search language. It also returns the total number of matching rows.
func (s *PostgresStore) SearchFullText(ctx context.Context, terms string, limit int) ([]model.IncentiveStub, int, error) {
	doc := incentiveDocument(s.language)
	tsq := `plainto_tsquery('` + s.language + `', $1)`

	rows, err := s.pool.Query(ctx,
		`SELECT incentive_pk, coalesce(title,''), coalesce(ai_description, description, '')
		FROM incentives
		WHERE `+doc+` @@ `+tsq+`
		ORDER BY ts_rank(`+doc+`, `+tsq+`) DESC, incentive_pk DESC
		LIMIT $2`,
		terms, limit,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: full-text search")
	}
	stubs, err := scanStubs(rows, "full-text search")
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM incentives WHERE `+doc+` @@ `+tsq, terms,
	).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: full-text count")
	}
	return stubs, total, nil
}

// Recent returns the newest incentives.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]model.IncentiveStub, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stubColumns+` FROM incentives ORDER BY incentive_pk DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent incentives")
	}
	return scanStubs(rows, "recent incentives")
}
