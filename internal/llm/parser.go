package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tallyfin/tally/internal/model"
)

// aiItem is the expected shape of a single categorisation in the model's
// reply. Confidence is a pointer so a missing field is distinguishable
// from an explicit zero.
type aiItem struct {
	Confidence *float64 `json:"confidence"`
	Category   string   `json:"category"`
	Index      int      `json:"index"`
}

// parseCategorisations parses and validates the raw model reply into
// per-index match results. The payload is untrusted: every field is
// checked, and any item that is missing, mistyped, out of range, or
// referencing an unknown category degrades to a nil entry for its index
// rather than failing the batch. Only an entirely unparsable reply is an
// error.
func parseCategorisations(content string, n int, categoriesByName map[string]model.Category) (map[int]*model.MatchResult, error) {
	cleaned := cleanMarkdownWrapper(content)

	// Decode the array shape first, elements individually after, so one
	// mistyped item skips that item instead of failing the batch.
	var raws []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raws); err != nil {
		// The model sometimes pads the JSON with prose; try the outermost array.
		start := strings.Index(cleaned, "[")
		end := strings.LastIndex(cleaned, "]")
		if start == -1 || end <= start {
			return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
		}
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
		}
	}

	results := make(map[int]*model.MatchResult, n)
	for i := 0; i < n; i++ {
		results[i] = nil
	}

	for _, raw := range raws {
		var item aiItem
		if err := json.Unmarshal(raw, &item); err != nil {
			slog.Debug("skipping malformed AI categorisation item", "error", err)
			continue
		}
		if item.Index < 0 || item.Index >= n {
			slog.Debug("AI categorisation references unknown index", "index", item.Index)
			continue
		}
		if item.Confidence == nil || *item.Confidence < 0 || *item.Confidence > 1 {
			slog.Debug("AI categorisation has invalid confidence", "index", item.Index)
			continue
		}

		cat, ok := categoriesByName[model.NormalizePattern(item.Category)]
		if !ok {
			slog.Debug("AI categorisation references unknown category",
				"index", item.Index,
				"category", item.Category)
			continue
		}

		results[item.Index] = &model.MatchResult{
			CategoryID:   cat.ID,
			CategoryName: cat.Name,
			Confidence:   *item.Confidence,
			Source:       model.SourceAI,
		}
	}

	return results, nil
}

// cleanMarkdownWrapper strips a markdown code fence the model may have
// wrapped around the JSON payload.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if idx := strings.Index(content, "\n"); idx != -1 {
			content = content[idx+1:]
		} else {
			content = strings.TrimPrefix(content, "```json")
			content = strings.TrimPrefix(content, "```")
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return strings.TrimSpace(content)
}
