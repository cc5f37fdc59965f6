package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/incentive-match/internal/db"
	"github.com/sells-group/incentive-match/internal/model"
)

// rule_pass is JSONB; producers have written both true and "true".
const rulePassText = `COALESCE(m.rule_pass::text, 'null')`

// parseRulePass maps the text form of rule_pass to a tri-state flag.
func parseRulePass(raw string) *bool {
	switch strings.Trim(strings.ToLower(strings.TrimSpace(raw)), `"`) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	default:
		return nil
	}
}

func scanCandidates(rows pgx.Rows) ([]model.MatchCandidate, error) {
	defer rows.Close()

	var out []model.MatchCandidate
	for rows.Next() {
		var c model.MatchCandidate
		var rulePass string
		if err := rows.Scan(&c.IncentiveID, &c.CompanyID, &c.Score, &c.Rank, &rulePass, &c.Explanation,
			&c.CompanyName, &c.CAELabel, &c.TradeDescription); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match")
		}
		c.RulePass = parseRulePass(rulePass)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list matches iterate")
}

const candidateSelect = `SELECT m.incentive_id, m.company_id, m.score, m.rank, ` + rulePassText + `, m.explanation,
	coalesce(c.company_name,''), coalesce(c.cae_primary_label,''), coalesce(c.trade_description_native,'')
	FROM matches m
	JOIN companies c ON c.id = m.company_id
	WHERE m.incentive_id = $1
	ORDER BY m.rank`

// ListCandidates returns up to limit candidates of an incentive by rank.
func (s *PostgresStore) ListCandidates(ctx context.Context, incentiveID int64, limit int) ([]model.MatchCandidate, error) {
	rows, err := s.pool.Query(ctx, candidateSelect+` LIMIT $2`, incentiveID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list candidates %d", incentiveID)
	}
	return scanCandidates(rows)
}

// MatchesForIncentive returns every match of an incentive by rank.
func (s *PostgresStore) MatchesForIncentive(ctx context.Context, incentiveID int64) ([]model.MatchCandidate, error) {
	rows, err := s.pool.Query(ctx, candidateSelect, incentiveID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list matches %d", incentiveID)
	}
	return scanCandidates(rows)
}

// renumberRest moves every other match of the incentive behind the ranked
// ones, keeping their previous relative order.
const renumberRest = `UPDATE matches AS t SET rank = r.new_rank
	FROM (
		SELECT company_id, $2::int + row_number() OVER (ORDER BY rank NULLS LAST, score DESC, company_id) AS new_rank
		FROM matches
		WHERE incentive_id = $1 AND NOT (company_id = ANY($3))
	) AS r
	WHERE t.incentive_id = $1 AND t.company_id = r.company_id`

// ApplyRanks rewrites rank and explanation of the given companies of one
// incentive inside a single transaction. The remaining matches are
// renumbered after them so ranks stay unique and run 1..N.
func (s *PostgresStore) ApplyRanks(ctx context.Context, incentiveID int64, updates []model.RankUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	rows := make([][]any, len(updates))
	ids := make([]int64, len(updates))
	for i, u := range updates {
		rows[i] = []any{u.CompanyID, u.Rank, u.Explanation}
		ids[i] = u.CompanyID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin ranks update %d", incentiveID)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.BatchUpdate(ctx, tx, db.UpdateConfig{
		Table:   "matches",
		Key:     "company_id",
		Columns: []string{"rank", "explanation"},
		Types:   []string{"bigint", "int", "text"},
		Where:   fmt.Sprintf("t.incentive_id = %d", incentiveID),
	}, rows); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, renumberRest, incentiveID, len(updates), ids); err != nil {
		return eris.Wrapf(err, "postgres: renumber matches %d", incentiveID)
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit ranks update %d", incentiveID)
}

// NonCompliantMatches lists matches whose rule_pass flag is not true,
// highest score first.
func (s *PostgresStore) NonCompliantMatches(ctx context.Context, limit int) ([]model.MatchAudit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT i.incentive_pk, coalesce(i.title,''), m.company_id, coalesce(c.company_name,''),
			m.score, m.rank, `+rulePassText+`, m.explanation
		FROM matches m
		JOIN incentives i ON i.incentive_pk = m.incentive_id
		JOIN companies c ON c.id = m.company_id
		WHERE COALESCE(m.rule_pass::text, 'false') NOT IN ('true', '"true"')
		ORDER BY m.score DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list non-compliant matches")
	}
	defer rows.Close()

	var out []model.MatchAudit
	for rows.Next() {
		var a model.MatchAudit
		var rulePass string
		if err := rows.Scan(&a.IncentiveID, &a.IncentiveTitle, &a.CompanyID, &a.CompanyName,
			&a.Score, &a.Rank, &rulePass, &a.Explanation); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit row")
		}
		a.RulePass = parseRulePass(rulePass)
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list non-compliant matches iterate")
}
