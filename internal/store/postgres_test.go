package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/incentive-match/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewWithPool(mock, ""), mock
}

func strPtr(s string) *string { return &s }

func TestFTSLanguage(t *testing.T) {
	assert.Equal(t, "portuguese", ftsLanguage(""))
	assert.Equal(t, "english", ftsLanguage("english"))
	assert.Equal(t, "portuguese", ftsLanguage("x'); DROP TABLE incentives; --"))
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS vector`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExecScript(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO matches`).WillReturnResult(pgxmock.NewResult("INSERT", 5))
	require.NoError(t, s.ExecScript(context.Background(), "INSERT INTO matches SELECT 1"))

	err := s.ExecScript(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty script")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Counts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM incentives`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM companies`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(340))

	n, err := s.CountIncentives(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = s.CountCompanies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 340, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func companyRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "company_name", "cae_primary_label", "trade_description_native"})
}

func TestPostgresStore_ForEachUnembeddedCompany_Pages(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM companies\s+WHERE embedding IS NULL AND id > \$1`).
		WithArgs(int64(0), 2).
		WillReturnRows(companyRows().AddRow(int64(1), "A", "x", "a").AddRow(int64(4), "B", "y", "b"))
	mock.ExpectQuery(`FROM companies\s+WHERE embedding IS NULL AND id > \$1`).
		WithArgs(int64(4), 2).
		WillReturnRows(companyRows().AddRow(int64(9), "C", "z", "c"))

	var seen []int64
	err := s.ForEachUnembeddedCompany(context.Background(), 2, func(page []model.Company) error {
		for _, c := range page {
			seen = append(seen, c.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4, 9}, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ForEachUnembeddedCompany_CallbackError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM companies`).
		WithArgs(int64(0), 2).
		WillReturnRows(companyRows().AddRow(int64(1), "A", "x", "a").AddRow(int64(2), "B", "y", "b"))

	stop := errors.New("quota exhausted")
	err := s.ForEachUnembeddedCompany(context.Background(), 2, func([]model.Company) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCompanyEmbeddings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "companies" AS t SET "embedding" = v."embedding"`).
		WithArgs(int64(1), pgxmock.AnyArg(), int64(2), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	err := s.UpdateCompanyEmbeddings(context.Background(), []EmbeddingUpdate{
		{ID: 1, Vector: []float32{0.1, 0.2}},
		{ID: 2, Vector: []float32{0.3, 0.4}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCompanyEmbeddings_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "companies"`).
		WithArgs(int64(1), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	err := s.UpdateCompanyEmbeddings(context.Background(), []EmbeddingUpdate{{ID: 1, Vector: []float32{1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db: update: companies")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCompanyEmbeddings_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.UpdateCompanyEmbeddings(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func incentiveRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"incentive_pk", "title", "description", "ai_description",
		"eligibility_criteria", "eligibility", "has_embedding", "created_at"})
}

func TestPostgresStore_IncentivesNeedingIngestion(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM incentives WHERE embedding IS NULL OR \(eligibility IS NULL AND coalesce\(eligibility_criteria,''\) ~ '\[\^\[:space:\]\]'\) ORDER BY incentive_pk`).
		WillReturnRows(incentiveRows().
			AddRow(int64(1), "Inovação", "raw", "", "PME", (*string)(nil), false, created).
			AddRow(int64(2), "Digital", "raw", "refined", "", strPtr(`{"allowed_cae_labels":["62010"]}`), true, created))

	incs, err := s.IncentivesNeedingIngestion(context.Background())
	require.NoError(t, err)
	require.Len(t, incs, 2)

	assert.Nil(t, incs[0].Eligibility)
	assert.False(t, incs[0].HasEmbedding)

	assert.Equal(t, "refined", incs[1].EffectiveDescription())
	require.NotNil(t, incs[1].Eligibility)
	assert.Equal(t, []string{"62010"}, incs[1].Eligibility.AllowedCAELabels)
	assert.Equal(t, []string{}, incs[1].Eligibility.KeywordsBonus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListExplainable_BadEligibilityJSON(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM incentives WHERE embedding IS NOT NULL`).
		WillReturnRows(incentiveRows().
			AddRow(int64(3), "T", "", "", "", strPtr(`"not an object"`), true, time.Time{}))

	incs, err := s.ListExplainable(context.Background())
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, model.EmptyEligibility(), incs[0].Eligibility)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateIncentiveIngestion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE incentives SET embedding = \$1::vector, eligibility = \$2::jsonb WHERE incentive_pk = \$3`).
		WithArgs(pgxmock.AnyArg(), `{"allowed_cae_labels":[],"keywords_required":[],"keywords_bonus":[]}`, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE incentives SET embedding`).
		WithArgs(pgxmock.AnyArg(), nil, int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE incentives SET embedding`).
		WithArgs(pgxmock.AnyArg(), nil, int64(9)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, s.UpdateIncentiveIngestion(ctx, 7, []float32{1, 2}, model.EmptyEligibility()))
	require.NoError(t, s.UpdateIncentiveIngestion(ctx, 8, []float32{1, 2}, nil))
	assert.ErrorIs(t, s.UpdateIncentiveIngestion(ctx, 9, []float32{1, 2}, nil), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetIncentive_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM incentives WHERE incentive_pk = \$1`).
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetIncentive(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func matchRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"incentive_id", "company_id", "score", "rank", "rule_pass", "explanation",
		"company_name", "cae_primary_label", "trade_description_native"})
}

func TestPostgresStore_ListCandidates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM matches m\s+JOIN companies c ON c.id = m.company_id\s+WHERE m.incentive_id = \$1\s+ORDER BY m.rank LIMIT \$2`).
		WithArgs(int64(5), 5).
		WillReturnRows(matchRows().
			AddRow(int64(5), int64(10), 0.91, 1, "true", (*string)(nil), "Acme", "62010", "software").
			AddRow(int64(5), int64(11), 0.85, 2, `"true"`, strPtr("Acme Two — fit"), "Acme Two", "62020", "").
			AddRow(int64(5), int64(12), 0.70, 3, "null", (*string)(nil), "Beta", "", "").
			AddRow(int64(5), int64(13), 0.60, 4, "false", (*string)(nil), "Gamma", "", ""))

	got, err := s.ListCandidates(context.Background(), 5, 5)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.True(t, got[0].Compliant())
	assert.Nil(t, got[0].Explanation)
	assert.True(t, got[1].Compliant())
	assert.Equal(t, "Acme Two — fit", *got[1].Explanation)
	assert.Nil(t, got[2].RulePass)
	require.NotNil(t, got[3].RulePass)
	assert.False(t, *got[3].RulePass)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyRanks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "matches" AS t SET "rank" = v."rank", "explanation" = v."explanation" .* AND t.incentive_id = 5`).
		WithArgs(int64(11), 1, "Acme Two — fit", int64(10), 2, "Acme").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec(`UPDATE matches AS t SET rank = r.new_rank`).
		WithArgs(int64(5), 2, []int64{11, 10}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectCommit()

	err := s.ApplyRanks(context.Background(), 5, []model.RankUpdate{
		{CompanyID: 11, Rank: 1, Explanation: "Acme Two — fit"},
		{CompanyID: 10, Rank: 2, Explanation: "Acme"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyRanks_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "matches"`).
		WithArgs(int64(11), 1, "x").
		WillReturnError(errors.New("serialization failure"))
	mock.ExpectRollback()

	err := s.ApplyRanks(context.Background(), 5, []model.RankUpdate{{CompanyID: 11, Rank: 1, Explanation: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serialization failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyRanks_RenumberFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "matches"`).
		WithArgs(int64(30), 1, "Gama").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`row_number\(\) OVER \(ORDER BY rank NULLS LAST, score DESC, company_id\)`).
		WithArgs(int64(5), 1, []int64{30}).
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	err := s.ApplyRanks(context.Background(), 5, []model.RankUpdate{{CompanyID: 30, Rank: 1, Explanation: "Gama"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: renumber matches 5")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NonCompliantMatches(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`NOT IN \('true', '"true"'\)\s+ORDER BY m.score DESC\s+LIMIT \$1`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{"incentive_pk", "title", "company_id", "company_name",
			"score", "rank", "rule_pass", "explanation"}).
			AddRow(int64(3), "Inovação", int64(40), "Delta", 0.88, 1, "false", strPtr("Delta — close")))

	got, err := s.NonCompliantMatches(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Inovação", got[0].IncentiveTitle)
	assert.Equal(t, int64(40), got[0].CompanyID)
	assert.False(t, got[0].Compliant())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseRulePass(t *testing.T) {
	tests := []struct {
		raw  string
		want *bool
	}{
		{"true", boolPtr(true)},
		{`"true"`, boolPtr(true)},
		{"TRUE", boolPtr(true)},
		{"false", boolPtr(false)},
		{`"false"`, boolPtr(false)},
		{"null", nil},
		{"", nil},
		{`{"ok":true}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRulePass(tt.raw))
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func TestContainsPattern(t *testing.T) {
	assert.Equal(t, "%apoio%", containsPattern("apoio"))
	assert.Equal(t, `%100\% PME\_2025%`, containsPattern("100% PME_2025"))
	assert.Equal(t, `%a\\b%`, containsPattern(`a\b`))
}

func TestPostgresStore_SearchSubstring_EscapesWildcards(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`(?s)FROM incentives WHERE title ILIKE \$1 ESCAPE '\\' OR .*ORDER BY incentive_pk DESC\s+LIMIT \$2`).
		WithArgs(`%taxa\_zero%`, 5).
		WillReturnRows(pgxmock.NewRows([]string{"incentive_pk", "title", "description"}).
			AddRow(int64(9), "taxa_zero", "Linha de crédito"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM incentives WHERE title ILIKE \$1 ESCAPE`).
		WithArgs(`%taxa\_zero%`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	stubs, total, err := s.SearchSubstring(context.Background(), "taxa_zero", 5)
	require.NoError(t, err)
	require.Len(t, stubs, 1)
	assert.Equal(t, int64(9), stubs[0].ID)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
