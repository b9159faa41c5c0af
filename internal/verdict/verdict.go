// Package verdict turns raw judge-model output into a validated verdict:
// coercion of harness payload shapes, JSON extraction, and strict schema
// checking of the verdict contract.
package verdict

// Verdict is the judge's structured answer for a single prediction. Scores is
// populated only for valid verdicts.
type Verdict struct {
	Valid     bool           `json:"valid"`
	Scores    map[string]int `json:"scores,omitempty"`
	Rationale string         `json:"brief_rationale"`
}

// Parse runs the full pipeline over a raw judge payload using the canonical
// rules: coerce, extract, validate shape, validate score types.
func Parse(raw any) (*Verdict, error) {
	return Rules{}.Parse(raw)
}

// Parse is like the package-level Parse under the receiver's ruleset.
func (r Rules) Parse(raw any) (*Verdict, error) {
	doc, err := Extract(Coerce(raw))
	if err != nil {
		return nil, err
	}
	if err := r.ValidateShape(doc); err != nil {
		return nil, err
	}
	if err := ValidateScoreTypes(doc); err != nil {
		return nil, err
	}
	return fromDocument(doc.(map[string]any)), nil
}

func fromDocument(m map[string]any) *Verdict {
	out := &Verdict{}
	out.Valid, _ = m["valid"].(bool)
	out.Rationale, _ = m["brief_rationale"].(string)
	if !out.Valid {
		return out
	}
	scores, _ := m["scores"].(map[string]any)
	out.Scores = make(map[string]int, len(dimensionOrder))
	for _, dim := range dimensionOrder {
		if value, ok := intScore(scores[dim]); ok {
			out.Scores[dim] = value
		}
	}
	return out
}
