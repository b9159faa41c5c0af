package verdict

import (
	"strings"
	"testing"
)

func TestValidateShapeViolations(t *testing.T) {
	testCases := []struct {
		name       string
		input      string
		wantReason string
	}{
		{"not a mapping", `[1, 2, 3]`, "not a mapping"},
		{"missing valid", `{"scores": null, "brief_rationale": "x"}`, `"valid"`},
		{"valid not boolean", `{"valid": "yes", "scores": null, "brief_rationale": "x"}`, `"valid" must be a boolean`},
		{"missing rationale", `{"valid": false, "scores": null}`, `"brief_rationale"`},
		{"rationale not string", `{"valid": false, "scores": null, "brief_rationale": 7}`, `"brief_rationale" must be a string`},
		{"scores not mapping when valid", `{"valid": true, "scores": null, "brief_rationale": "x"}`, `"scores" must be a mapping`},
		{"scores absent when invalid", `{"valid": false, "brief_rationale": "x"}`, `"scores"`},
		{"scores wrong type when invalid", `{"valid": false, "scores": 5, "brief_rationale": "x"}`, `"scores" must be null or a mapping`},
		{
			"missing dimension named",
			`{"valid": true, "scores": {"consequentiality": 1, "actionability": 1, "foresightedness": 1, "resolution_clarity": 1, "verifiability": 1, "conviction": 1}, "brief_rationale": "x"}`,
			`missing key "temporal_horizon"`,
		},
		{
			"unexpected score key named",
			`{"valid": true, "scores": {"consequentiality": 1, "actionability": 1, "foresightedness": 1, "resolution_clarity": 1, "verifiability": 1, "conviction": 1, "temporal_horizon": 1, "extra": 1}, "brief_rationale": "x"}`,
			`unexpected key "extra"`,
		},
		{
			"unexpected top-level key named",
			`{"valid": false, "scores": null, "brief_rationale": "x", "extra": 1}`,
			`unexpected key "extra"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateShape(mustExtract(t, tc.input))
			if KindOf(err) != KindSchemaViolation {
				t.Fatalf("expected schema violation, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantReason) {
				t.Fatalf("reason %q does not mention %q", err.Error(), tc.wantReason)
			}
		})
	}
}

func TestValidateShapeAccepts(t *testing.T) {
	inputs := []string{
		`{"valid": false, "scores": null, "brief_rationale": "too trivial"}`,
		`{"valid": false, "scores": {"consequentiality": null, "actionability": null, "foresightedness": null, "resolution_clarity": null, "verifiability": null, "conviction": null, "temporal_horizon": null}, "brief_rationale": "x"}`,
		`{"valid": true, "scores": {"consequentiality": 80, "actionability": 70, "foresightedness": 60, "resolution_clarity": 90, "verifiability": 50, "conviction": 40, "temporal_horizon": 30}, "brief_rationale": "solid"}`,
	}
	for _, input := range inputs {
		if err := ValidateShape(mustExtract(t, input)); err != nil {
			t.Fatalf("input %s: unexpected violation %v", input, err)
		}
	}
}

func TestValidateShapeRationaleWordLimit(t *testing.T) {
	long := strings.Repeat("word ", 301)
	doc := map[string]any{"valid": false, "scores": nil, "brief_rationale": long}

	err := ValidateShape(doc)
	if KindOf(err) != KindSchemaViolation {
		t.Fatalf("expected schema violation, got %v", err)
	}
	if !strings.Contains(err.Error(), "got 301") {
		t.Fatalf("reason should report the actual word count: %v", err)
	}

	doc["brief_rationale"] = strings.Repeat("word ", 300)
	if err := ValidateShape(doc); err != nil {
		t.Fatalf("300 words must pass, got %v", err)
	}
}

func TestValidateShapeLenientTopLevel(t *testing.T) {
	doc := parseDoc(t, `{"valid": false, "scores": null, "brief_rationale": "x", "model": "judge-1"}`)
	if err := ValidateShape(doc); KindOf(err) != KindSchemaViolation {
		t.Fatalf("strict rules must reject extras, got %v", err)
	}
	if err := (Rules{AllowExtraTopLevel: true}).ValidateShape(doc); err != nil {
		t.Fatalf("lenient rules must accept extras, got %v", err)
	}
}

func TestValidateScoreTypes(t *testing.T) {
	testCases := []struct {
		name       string
		input      string
		wantReason string
	}{
		{
			"fractional score",
			`{"valid": true, "scores": {"consequentiality": 80.5, "actionability": 1, "foresightedness": 1, "resolution_clarity": 1, "verifiability": 1, "conviction": 1, "temporal_horizon": 1}, "brief_rationale": "x"}`,
			`"consequentiality"`,
		},
		{
			"out of range",
			`{"valid": true, "scores": {"consequentiality": 1, "actionability": 101, "foresightedness": 1, "resolution_clarity": 1, "verifiability": 1, "conviction": 1, "temporal_horizon": 1}, "brief_rationale": "x"}`,
			`"actionability"`,
		},
		{
			"null when valid",
			`{"valid": true, "scores": {"consequentiality": 1, "actionability": 1, "foresightedness": null, "resolution_clarity": 1, "verifiability": 1, "conviction": 1, "temporal_horizon": 1}, "brief_rationale": "x"}`,
			`"foresightedness"`,
		},
		{
			"string score",
			`{"valid": true, "scores": {"consequentiality": 1, "actionability": 1, "foresightedness": 1, "resolution_clarity": "90", "verifiability": 1, "conviction": 1, "temporal_horizon": 1}, "brief_rationale": "x"}`,
			`"resolution_clarity"`,
		},
		{
			"non-null when invalid",
			`{"valid": false, "scores": {"consequentiality": null, "actionability": 12, "foresightedness": null, "resolution_clarity": null, "verifiability": null, "conviction": null, "temporal_horizon": null}, "brief_rationale": "x"}`,
			`"actionability" must be null`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateScoreTypes(mustExtract(t, tc.input))
			if KindOf(err) != KindSchemaViolation {
				t.Fatalf("expected schema violation, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantReason) {
				t.Fatalf("reason %q does not mention %q", err.Error(), tc.wantReason)
			}
		})
	}

	passing := []string{
		`{"valid": true, "scores": {"consequentiality": 0, "actionability": 100, "foresightedness": 1, "resolution_clarity": 1, "verifiability": 1, "conviction": 1, "temporal_horizon": 1}, "brief_rationale": "x"}`,
		`{"valid": false, "scores": null, "brief_rationale": "x"}`,
		`{"valid": false, "scores": {"consequentiality": null, "actionability": null, "foresightedness": null, "resolution_clarity": null, "verifiability": null, "conviction": null, "temporal_horizon": null}, "brief_rationale": "x"}`,
	}
	for _, input := range passing {
		if err := ValidateScoreTypes(mustExtract(t, input)); err != nil {
			t.Fatalf("input %s: unexpected violation %v", input, err)
		}
	}
}

func TestParsePipeline(t *testing.T) {
	raw := "```json\n" + `{"valid": true, "scores": {"consequentiality": 80, "actionability": 70, "foresightedness": 60, "resolution_clarity": 90, "verifiability": 50, "conviction": 40, "temporal_horizon": 30}, "brief_rationale": "well grounded"}` + "\n```"

	v, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !v.Valid {
		t.Fatalf("expected valid verdict")
	}
	if v.Scores[DimConsequentiality] != 80 || v.Scores[DimTemporalHorizon] != 30 {
		t.Fatalf("scores not carried over: %v", v.Scores)
	}
	if v.Rationale != "well grounded" {
		t.Fatalf("rationale mismatch: %q", v.Rationale)
	}

	invalid, err := Parse(`{"valid": false, "scores": null, "brief_rationale": "too vague"}`)
	if err != nil {
		t.Fatalf("parse invalid verdict: %v", err)
	}
	if invalid.Valid || invalid.Scores != nil {
		t.Fatalf("invalid verdict must carry no scores: %+v", invalid)
	}
}

// Parsing the same input twice yields identical verdicts and identical errors.
func TestParseDeterminism(t *testing.T) {
	inputs := []any{
		`{"valid": false, "scores": null, "brief_rationale": "x", "b_extra": 1, "a_extra": 2}`,
		map[string]any{"zz": "text one", "aa": "text two"},
	}
	for _, input := range inputs {
		first, firstErr := Parse(input)
		second, secondErr := Parse(input)
		if (firstErr == nil) != (secondErr == nil) {
			t.Fatalf("non-deterministic outcome for %v", input)
		}
		if firstErr != nil {
			if firstErr.Error() != secondErr.Error() {
				t.Fatalf("non-deterministic error: %v vs %v", firstErr, secondErr)
			}
			continue
		}
		if first.Valid != second.Valid || first.Rationale != second.Rationale {
			t.Fatalf("non-deterministic verdict: %+v vs %+v", first, second)
		}
	}
}

func mustExtract(t *testing.T, raw string) any {
	t.Helper()
	doc, err := Extract(raw)
	if err != nil {
		t.Fatalf("extract fixture: %v", err)
	}
	return doc
}
