package model

// ContextItem is one incentive grounding a streamed answer.
type ContextItem struct {
	IncentiveID int64          `json:"incentive_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Matches     []ContextMatch `json:"matches"`
}

// ContextMatch is a ranked company attached to a ContextItem.
type ContextMatch struct {
	Rank    int    `json:"rank"`
	Company string `json:"company"`
	CAE     string `json:"cae"`
	Why     string `json:"why"`
}

// Resolution is the outcome of resolving a question against the store.
type Resolution struct {
	Incentives      []IncentiveStub
	MatchCount      int
	TotalIncentives int
	TotalCompanies  int
	// Tier names the tier that produced the rows.
	Tier string
	// ExactReference is set when the question named an incentive id.
	ExactReference bool
	// SkipCompanies is set for how-to questions that never mention companies.
	SkipCompanies bool
}
