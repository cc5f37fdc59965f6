package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveDescription(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "refined", Incentive{Description: "raw", AIDescription: "refined"}.EffectiveDescription())
	assert.Equal(t, "raw", Incentive{Description: "raw"}.EffectiveDescription())
}

func TestEmptyEligibility_MarshalsEmptyLists(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(EmptyEligibility())
	require.NoError(t, err)
	assert.JSONEq(t, `{"allowed_cae_labels":[],"keywords_required":[],"keywords_bonus":[]}`, string(b))
}

func TestEligibilityNormalize(t *testing.T) {
	t.Parallel()

	var nilDoc *Eligibility
	assert.Equal(t, EmptyEligibility(), nilDoc.Normalize())

	doc := (&Eligibility{KeywordsRequired: []string{"software"}}).Normalize()
	assert.Equal(t, []string{}, doc.AllowedCAELabels)
	assert.Equal(t, []string{"software"}, doc.KeywordsRequired)
	assert.Equal(t, []string{}, doc.KeywordsBonus)
}

func TestMatchCandidateCompliant(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	tests := []struct {
		name string
		flag *bool
		want bool
	}{
		{"true", &yes, true},
		{"false", &no, false},
		{"null", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MatchCandidate{RulePass: tt.flag}.Compliant())
		})
	}
}

func TestContextItemJSONKeys(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(ContextItem{
		IncentiveID: 3,
		Title:       "Inovação",
		Description: "desc",
		Matches:     []ContextMatch{{Rank: 1, Company: "Acme", CAE: "62010", Why: "fit"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"incentive_id":3,"title":"Inovação","description":"desc","matches":[{"rank":1,"company":"Acme","cae":"62010","why":"fit"}]}`,
		string(b))
}
