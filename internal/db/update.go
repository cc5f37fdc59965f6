package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpdateConfig describes a multi-row UPDATE ... FROM (VALUES ...) statement.
type UpdateConfig struct {
	Table   string   // target table (e.g., "public.companies")
	Key     string   // column matched against the first value of each row
	Columns []string // columns overwritten, in row order after the key
	Types   []string // SQL type per value (key first), used as casts
	// Where is an optional extra predicate on the target, aliased "t".
	Where string
}

// BatchUpdate overwrites Columns for every row whose Key matches row[0].
// Rows are sent as one statement; callers choose the transaction.
func BatchUpdate(ctx context.Context, ex Execer, cfg UpdateConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if cfg.Key == "" {
		return 0, eris.New("db: update: no key column specified")
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: update: no columns specified")
	}
	width := len(cfg.Columns) + 1
	if len(cfg.Types) != 0 && len(cfg.Types) != width {
		return 0, eris.Errorf("db: update: %d types for %d values", len(cfg.Types), width)
	}

	query, args, err := buildUpdate(cfg, rows)
	if err != nil {
		return 0, err
	}

	tag, err := ex.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "db: update: %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func buildUpdate(cfg UpdateConfig, rows [][]any) (string, []any, error) {
	width := len(cfg.Columns) + 1
	args := make([]any, 0, len(rows)*width)
	tuples := make([]string, 0, len(rows))

	for i, row := range rows {
		if len(row) != width {
			return "", nil, eris.Errorf("db: update: row %d has %d values, want %d", i, len(row), width)
		}
		ph := make([]string, width)
		for j := range row {
			ph[j] = fmt.Sprintf("$%d", len(args)+j+1)
			if len(cfg.Types) > 0 && cfg.Types[j] != "" {
				ph[j] += "::" + cfg.Types[j]
			}
		}
		args = append(args, row...)
		tuples = append(tuples, "("+strings.Join(ph, ", ")+")")
	}

	names := append([]string{cfg.Key}, cfg.Columns...)
	sets := make([]string, len(cfg.Columns))
	for i, col := range cfg.Columns {
		id := pgx.Identifier{col}.Sanitize()
		sets[i] = fmt.Sprintf("%s = v.%s", id, id)
	}
	key := pgx.Identifier{cfg.Key}.Sanitize()

	query := fmt.Sprintf(
		"UPDATE %s AS t SET %s FROM (VALUES %s) AS v(%s) WHERE t.%s = v.%s",
		sanitizeTable(cfg.Table),
		strings.Join(sets, ", "),
		strings.Join(tuples, ", "),
		quoteAndJoin(names),
		key, key,
	)
	if cfg.Where != "" {
		query += " AND " + cfg.Where
	}
	return query, args, nil
}

// sanitizeTable handles schema-qualified table names like "public.companies".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
