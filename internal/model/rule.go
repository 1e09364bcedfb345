package model

import (
	"strings"
	"time"
)

// MatchType is the strategy a rule uses to match a transaction description.
type MatchType string

// Match type constants.
const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
)

// Valid reports whether the match type is one of the known strategies.
func (mt MatchType) Valid() bool {
	switch mt {
	case MatchExact, MatchContains, MatchRegex:
		return true
	}
	return false
}

// Pattern length bounds enforced at rule creation.
const (
	MinPatternLength = 1
	MaxPatternLength = 500
)

// Rule represents a stored pattern-to-category mapping used for
// deterministic transaction categorisation.
type Rule struct {
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Pattern    string     `json:"pattern"`
	MatchType  MatchType  `json:"match_type"`
	Notes      string     `json:"notes,omitempty"`
	ID         int        `json:"id"`
	CategoryID int        `json:"category_id"`
	UseCount   int        `json:"use_count"`
	Confidence float64    `json:"confidence"`
	IsSystem   bool       `json:"is_system"`
	IsActive   bool       `json:"is_active"`
}

// NormalizePattern trims and lower-cases a pattern or description so that
// exact and duplicate comparisons are case-insensitive. Matching and
// duplicate detection must use the same normalisation.
func NormalizePattern(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DefaultConfidence returns the confidence assigned to a new rule when the
// caller does not specify one. Literal matches are more trustworthy than
// pattern matches.
func DefaultConfidence(mt MatchType) float64 {
	switch mt {
	case MatchExact:
		return 1.0
	case MatchContains:
		return 0.85
	case MatchRegex:
		return 0.8
	}
	return 0.5
}
