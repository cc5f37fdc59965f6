package model

import "time"

// Incentive is a public funding program record.
type Incentive struct {
	ID                  int64        `json:"incentive_id"`
	Title               string       `json:"title"`
	Description         string       `json:"description,omitempty"`
	AIDescription       string       `json:"ai_description,omitempty"`
	EligibilityCriteria string       `json:"eligibility_criteria,omitempty"`
	Eligibility         *Eligibility `json:"eligibility,omitempty"`
	HasEmbedding        bool         `json:"-"`
	CreatedAt           time.Time    `json:"created_at,omitzero"`
}

// EffectiveDescription prefers the model-refined description.
func (i Incentive) EffectiveDescription() string {
	if i.AIDescription != "" {
		return i.AIDescription
	}
	return i.Description
}

// Eligibility is the structured eligibility document extracted from the
// free-text criteria of an incentive.
type Eligibility struct {
	AllowedCAELabels []string `json:"allowed_cae_labels"`
	KeywordsRequired []string `json:"keywords_required"`
	KeywordsBonus    []string `json:"keywords_bonus"`
}

// EmptyEligibility is the document stored when extraction output is unusable.
func EmptyEligibility() *Eligibility {
	return &Eligibility{
		AllowedCAELabels: []string{},
		KeywordsRequired: []string{},
		KeywordsBonus:    []string{},
	}
}

// Normalize replaces missing lists with empty ones.
func (e *Eligibility) Normalize() *Eligibility {
	if e == nil {
		return EmptyEligibility()
	}
	if e.AllowedCAELabels == nil {
		e.AllowedCAELabels = []string{}
	}
	if e.KeywordsRequired == nil {
		e.KeywordsRequired = []string{}
	}
	if e.KeywordsBonus == nil {
		e.KeywordsBonus = []string{}
	}
	return e
}

// IncentiveStub is the slice of an incentive the query path needs.
type IncentiveStub struct {
	ID          int64  `json:"incentive_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}
