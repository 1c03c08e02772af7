package advisor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes reasoning-model think tags from the response.
func StripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagRegex.ReplaceAllString(text, ""))
}

// ParseDecisions parses a model reply into decisions. Handles: JSON
// array, single JSON object, markdown code fences, JSON embedded in
// surrounding prose. Anything it cannot turn into valid decisions is
// an error; the caller falls back to hold.
func ParseDecisions(text string) ([]Decision, error) {
	cleaned := StripThinkTags(text)

	// Remove markdown code fences
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" || cleaned == "[]" {
		return nil, nil
	}

	// Try parsing as array first
	var decisions []Decision
	if err := json.Unmarshal([]byte(cleaned), &decisions); err == nil {
		return normalize(decisions)
	}

	// Try parsing as single object
	var single Decision
	if err := json.Unmarshal([]byte(cleaned), &single); err == nil {
		return normalize([]Decision{single})
	}

	// Try to extract a JSON array from the text
	jsonStart := strings.Index(cleaned, "[")
	jsonEnd := strings.LastIndex(cleaned, "]")
	if jsonStart >= 0 && jsonEnd > jsonStart {
		substr := cleaned[jsonStart : jsonEnd+1]
		if err := json.Unmarshal([]byte(substr), &decisions); err == nil {
			return normalize(decisions)
		}
	}

	// Try extracting a single JSON object
	jsonStart = strings.Index(cleaned, "{")
	jsonEnd = strings.LastIndex(cleaned, "}")
	if jsonStart >= 0 && jsonEnd > jsonStart {
		substr := cleaned[jsonStart : jsonEnd+1]
		if err := json.Unmarshal([]byte(substr), &single); err == nil {
			return normalize([]Decision{single})
		}
	}

	return nil, fmt.Errorf("failed to parse advisor response as JSON: %.200s", cleaned)
}

// normalize canonicalizes casing and rejects decisions the engine could
// not apply deterministically.
func normalize(decisions []Decision) ([]Decision, error) {
	out := make([]Decision, 0, len(decisions))
	for _, d := range decisions {
		d.Signal = Signal(strings.ToLower(strings.TrimSpace(string(d.Signal))))
		d.Coin = strings.ToUpper(strings.TrimSpace(d.Coin))

		if !d.Signal.Valid() {
			return nil, fmt.Errorf("unknown signal %q", d.Signal)
		}
		if d.Signal == SignalHold {
			continue
		}
		if d.Coin == "" {
			return nil, fmt.Errorf("decision %s has no coin", d.Signal)
		}
		if d.Signal != SignalClosePosition && d.Quantity <= 0 && d.Notional <= 0 {
			return nil, fmt.Errorf("entry for %s has no positive size", d.Coin)
		}
		if d.Leverage < 0 {
			return nil, fmt.Errorf("entry for %s has negative leverage", d.Coin)
		}

		out = append(out, d)
	}
	return out, nil
}
