package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/incentive-match/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_log (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp          TEXT NOT NULL,
	source             TEXT NOT NULL,
	model              TEXT NOT NULL,
	prompt_tokens      INTEGER NOT NULL DEFAULT 0,
	completion_tokens  INTEGER NOT NULL DEFAULT 0,
	estimated_cost_usd REAL NOT NULL DEFAULT 0,
	metadata_json      TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_usage_log_source ON usage_log(source);
`

// SQLiteSink appends rows to a usage_log table in a SQLite file.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens dsn in WAL mode and creates the table.
func NewSQLiteSink(ctx context.Context, dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "usage: sqlite open")
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		sqliteSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, eris.Wrap(err, "usage: sqlite init")
		}
	}
	return &SQLiteSink{db: db}, nil
}

// Append implements Sink.
func (s *SQLiteSink) Append(ctx context.Context, rec model.UsageRecord) error {
	meta := []byte("{}")
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return eris.Wrap(err, "usage: encode metadata")
		}
		meta = b
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (timestamp, source, model, prompt_tokens, completion_tokens, estimated_cost_usd, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339), rec.Source, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.EstimatedCostUSD, string(meta),
	)
	return eris.Wrap(err, "usage: sqlite insert")
}

// Records implements Sink.
func (s *SQLiteSink) Records(ctx context.Context) ([]model.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, source, model, prompt_tokens, completion_tokens, estimated_cost_usd, metadata_json
		 FROM usage_log ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "usage: sqlite query")
	}
	defer rows.Close()

	var out []model.UsageRecord
	for rows.Next() {
		var rec model.UsageRecord
		var ts, meta string
		if err := rows.Scan(&ts, &rec.Source, &rec.Model, &rec.PromptTokens,
			&rec.CompletionTokens, &rec.EstimatedCostUSD, &meta); err != nil {
			return nil, eris.Wrap(err, "usage: sqlite scan")
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339, ts)
		_ = json.Unmarshal([]byte(meta), &rec.Metadata)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "usage: sqlite rows")
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
