package model

// MatchCandidate pairs an incentive with a scored, ranked company. The
// company fields are joined in for prompting and display.
type MatchCandidate struct {
	IncentiveID      int64   `json:"incentive_id"`
	CompanyID        int64   `json:"company_id"`
	Score            float64 `json:"score"`
	Rank             int     `json:"rank"`
	RulePass         *bool   `json:"rule_pass"`
	Explanation      *string `json:"explanation"`
	CompanyName      string  `json:"company_name,omitempty"`
	CAELabel         string  `json:"cae_primary_label,omitempty"`
	TradeDescription string  `json:"trade_description_native,omitempty"`
}

// Compliant reports whether the rule-compliance flag is set and true.
// A null flag counts as not compliant.
func (m MatchCandidate) Compliant() bool {
	return m.RulePass != nil && *m.RulePass
}

// RankUpdate is the rewrite of one candidate chosen by the explainer.
type RankUpdate struct {
	CompanyID   int64
	Rank        int
	Explanation string
}

// MatchAudit is a candidate flagged for review together with its incentive.
type MatchAudit struct {
	MatchCandidate
	IncentiveTitle string `json:"incentive_title"`
}
