package verdict

import (
	"math"
	"strings"
)

const maxRationaleWords = 300

// Rules tunes schema strictness. The zero value is the canonical, strictest
// ruleset; AllowExtraTopLevel reproduces the older lenient behaviour for
// historical outputs that carried harness bookkeeping at the top level.
type Rules struct {
	AllowExtraTopLevel bool
}

// ValidateShape applies the canonical ruleset.
func ValidateShape(doc any) error {
	return Rules{}.ValidateShape(doc)
}

// ValidateShape checks the structural contract of a verdict document. Checks
// run in a fixed order and the first violation is reported; schema reasons
// always name the offending field or key.
func (r Rules) ValidateShape(doc any) error {
	m, ok := doc.(map[string]any)
	if !ok {
		return newError(KindSchemaViolation, "output is not a mapping")
	}

	validRaw, ok := m["valid"]
	if !ok {
		return newError(KindSchemaViolation, "missing required field %q", "valid")
	}
	validFlag, ok := validRaw.(bool)
	if !ok {
		return newError(KindSchemaViolation, "field %q must be a boolean", "valid")
	}

	rationaleRaw, ok := m["brief_rationale"]
	if !ok {
		return newError(KindSchemaViolation, "missing required field %q", "brief_rationale")
	}
	rationale, ok := rationaleRaw.(string)
	if !ok {
		return newError(KindSchemaViolation, "field %q must be a string", "brief_rationale")
	}
	if words := len(strings.Fields(rationale)); words > maxRationaleWords {
		return newError(KindSchemaViolation, "field %q exceeds %d words (got %d)", "brief_rationale", maxRationaleWords, words)
	}

	scoresRaw, scoresPresent := m["scores"]
	if validFlag {
		scores, ok := scoresRaw.(map[string]any)
		if !ok {
			return newError(KindSchemaViolation, "field %q must be a mapping when valid is true", "scores")
		}
		if err := checkScoreKeys(scores); err != nil {
			return err
		}
	} else {
		if !scoresPresent {
			return newError(KindSchemaViolation, "missing required field %q", "scores")
		}
		if scoresRaw != nil {
			scores, ok := scoresRaw.(map[string]any)
			if !ok {
				return newError(KindSchemaViolation, "field %q must be null or a mapping when valid is false", "scores")
			}
			if err := checkScoreKeys(scores); err != nil {
				return err
			}
		}
	}

	if !r.AllowExtraTopLevel {
		for _, key := range sortedKeys(m) {
			switch key {
			case "valid", "scores", "brief_rationale":
			default:
				return newError(KindSchemaViolation, "unexpected key %q", key)
			}
		}
	}
	return nil
}

// checkScoreKeys requires exactly the rubric dimensions, missing keys first.
func checkScoreKeys(scores map[string]any) error {
	for _, dim := range dimensionOrder {
		if _, ok := scores[dim]; !ok {
			return newError(KindSchemaViolation, "scores missing key %q", dim)
		}
	}
	for _, key := range sortedKeys(scores) {
		if !IsDimension(key) {
			return newError(KindSchemaViolation, "unexpected key %q", key)
		}
	}
	return nil
}

// ValidateScoreTypes checks score values once the shape is known good: valid
// verdicts carry integers in [0,100] for every dimension, invalid verdicts
// carry null scores throughout. The offending key is named.
func ValidateScoreTypes(doc any) error {
	m, ok := doc.(map[string]any)
	if !ok {
		return newError(KindSchemaViolation, "output is not a mapping")
	}
	validFlag, _ := m["valid"].(bool)
	scoresRaw := m["scores"]

	if validFlag {
		scores, ok := scoresRaw.(map[string]any)
		if !ok {
			return newError(KindSchemaViolation, "field %q must be a mapping when valid is true", "scores")
		}
		for _, dim := range dimensionOrder {
			value, ok := scores[dim]
			if !ok {
				return newError(KindSchemaViolation, "scores missing key %q", dim)
			}
			if _, ok := intScore(value); !ok {
				return newError(KindSchemaViolation, "score %q must be an integer between 0 and 100", dim)
			}
		}
		return nil
	}

	if scoresRaw == nil {
		return nil
	}
	scores, ok := scoresRaw.(map[string]any)
	if !ok {
		return newError(KindSchemaViolation, "field %q must be null or a mapping when valid is false", "scores")
	}
	for _, dim := range dimensionOrder {
		if value, ok := scores[dim]; ok && value != nil {
			return newError(KindSchemaViolation, "score %q must be null when valid is false", dim)
		}
	}
	return nil
}

// intScore accepts the numeric encodings JSON decoding can produce and
// rejects fractional values and anything outside [0,100].
func intScore(value any) (int, bool) {
	var score float64
	switch n := value.(type) {
	case float64:
		score = n
	case int:
		score = float64(n)
	default:
		return 0, false
	}
	if score != math.Trunc(score) {
		return 0, false
	}
	rounded := int(score)
	if rounded < 0 || rounded > 100 {
		return 0, false
	}
	return rounded, true
}
