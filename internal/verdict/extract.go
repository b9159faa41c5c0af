package verdict

import (
	"encoding/json"
	"strings"
)

const jsonFence = "```json"

// Extract recovers the JSON document embedded in a judge response. Strings are
// tried as whole-document JSON, then as a ```json fenced block, then as the
// substring between the first "{" and the last "}". Structured values pass
// through untouched.
func Extract(raw any) (any, error) {
	if raw == nil {
		return nil, newError(KindNoOutput, "judge produced no output")
	}

	text, ok := raw.(string)
	if !ok {
		return raw, nil
	}

	trimmed := strings.TrimSpace(text)
	if doc, ok := tryParse(trimmed); ok {
		return doc, nil
	}
	if block, ok := fencedBlock(trimmed); ok {
		if doc, ok := tryParse(block); ok {
			return doc, nil
		}
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			if doc, ok := tryParse(trimmed[start : end+1]); ok {
				return doc, nil
			}
		}
	}
	return nil, newError(KindUnparsable, "output is not parseable as JSON")
}

func tryParse(text string) (any, bool) {
	if text == "" {
		return nil, false
	}
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// fencedBlock returns the interior of the first ```json fence. A missing
// closing fence yields everything after the marker.
func fencedBlock(text string) (string, bool) {
	idx := strings.Index(text, jsonFence)
	if idx < 0 {
		return "", false
	}
	interior := text[idx+len(jsonFence):]
	if end := strings.Index(interior, "```"); end >= 0 {
		interior = interior[:end]
	}
	interior = strings.TrimSpace(interior)
	if interior == "" {
		return "", false
	}
	return interior, true
}
