package model

import "time"

// UsageRecord is one row of the model-call usage log.
type UsageRecord struct {
	Timestamp        time.Time      `json:"timestamp"`
	Source           string         `json:"source"`
	Model            string         `json:"model"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}
