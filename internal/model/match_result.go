package model

// MatchSource identifies what produced a categorisation result.
type MatchSource string

const (
	// SourceRule marks results produced by the rule matcher.
	SourceRule MatchSource = "rule"
	// SourceAI marks results produced by the AI fallback categoriser.
	SourceAI MatchSource = "ai"
)

// MatchResult is the transient outcome of categorising one description.
// It is never persisted by this subsystem; the caller decides whether to
// write it back to a transaction record.
type MatchResult struct {
	CategoryName string      `json:"category_name"`
	MatchType    MatchType   `json:"match_type,omitempty"`
	Source       MatchSource `json:"source"`
	CategoryID   int         `json:"category_id"`
	RuleID       int         `json:"rule_id,omitempty"`
	Confidence   float64     `json:"confidence"`
}
