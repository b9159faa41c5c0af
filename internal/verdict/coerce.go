package verdict

import "strings"

// Fields harnesses commonly tuck the judge's text under, scanned in order.
var textFields = []string{"text", "content", "output", "message", "response", "result"}

// Coerce flattens the many payload shapes judge harnesses hand back into the
// single value the extraction step should parse. Strings pass through,
// verdict-shaped maps are returned untouched, and other maps are scanned for
// text candidates. Nil means the judge produced no output at all.
func Coerce(raw any) any {
	if raw == nil {
		return nil
	}

	switch value := raw.(type) {
	case string:
		return value
	case map[string]any:
		if isVerdictShaped(value) {
			return value
		}
		candidates := textCandidates(value)
		if len(candidates) == 0 {
			return value
		}
		// Prefer a candidate that is itself a complete JSON object.
		for _, candidate := range candidates {
			if text, ok := candidate.(string); ok {
				trimmed := strings.TrimSpace(text)
				if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
					return candidate
				}
			}
		}
		// Then one that at least embeds an object somewhere.
		for _, candidate := range candidates {
			if text, ok := candidate.(string); ok {
				if strings.Contains(text, "{") && strings.Contains(text, "}") {
					return candidate
				}
			}
		}
		return candidates[0]
	default:
		return raw
	}
}

// isVerdictShaped treats any map carrying both verdict markers as the answer
// itself rather than a wrapper around it.
func isVerdictShaped(m map[string]any) bool {
	_, hasValid := m["valid"]
	_, hasScores := m["scores"]
	return hasValid && hasScores
}

func textCandidates(m map[string]any) []any {
	var out []any
	add := func(v any) {
		if v != nil {
			out = append(out, v)
		}
	}

	for _, field := range textFields {
		value, ok := m[field]
		if !ok || value == nil {
			continue
		}
		switch field {
		case "message", "response", "result":
			if nested, ok := value.(map[string]any); ok {
				if text, ok := nested["content"].(string); ok {
					add(text)
					continue
				}
				if text, ok := nested["text"].(string); ok {
					add(text)
					continue
				}
			}
			add(value)
		default:
			add(value)
		}
	}

	// Remaining string fields in sorted key order, so candidate preference is
	// deterministic regardless of map iteration.
	for _, key := range sortedKeys(m) {
		if isTextField(key) {
			continue
		}
		if text, ok := m[key].(string); ok {
			add(text)
		}
	}
	return out
}

func isTextField(name string) bool {
	for _, field := range textFields {
		if field == name {
			return true
		}
	}
	return false
}
