package checks

import (
	"strings"
	"testing"

	"prediction-eval/backend/internal/verdict"
)

const validOutput = `{"valid": true, "scores": {"consequentiality": 80, "actionability": 70, "foresightedness": 60, "resolution_clarity": 90, "verifiability": 50, "conviction": 40, "temporal_horizon": 30}, "brief_rationale": "well grounded"}`

const invalidOutput = `{"valid": false, "scores": null, "brief_rationale": "not a real prediction"}`

func fenced(t *testing.T, payload string) string {
	t.Helper()
	return "Sure, here is the verdict:\n```json\n" + payload + "\n```"
}

func TestStructuredJSON(t *testing.T) {
	testCases := []struct {
		name       string
		input      any
		wantPass   bool
		wantReason string
	}{
		{"fenced valid verdict", "", true, ""},
		{"wrapped payload", map[string]any{"message": map[string]any{"content": validOutput}}, true, ""},
		{"plain invalid verdict", invalidOutput, true, ""},
		{"no output", nil, false, "no output"},
		{"prose only", "I cannot answer that.", false, "not parseable"},
		{"extra key", `{"valid": false, "scores": null, "brief_rationale": "x", "extra": 1}`, false, `unexpected key "extra"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			input := tc.input
			if tc.name == "fenced valid verdict" {
				input = fenced(t, validOutput)
			}
			result := StructuredJSON(input)
			if result.Passed != tc.wantPass {
				t.Fatalf("expected passed=%v got %+v", tc.wantPass, result)
			}
			if !tc.wantPass && !strings.Contains(result.Reason, tc.wantReason) {
				t.Fatalf("reason %q does not mention %q", result.Reason, tc.wantReason)
			}
		})
	}
}

func TestScoreTypes(t *testing.T) {
	if result := ScoreTypes(validOutput); !result.Passed {
		t.Fatalf("valid scores must pass: %+v", result)
	}

	fractional := strings.Replace(validOutput, `"conviction": 40`, `"conviction": 40.5`, 1)
	result := ScoreTypes(fractional)
	if result.Passed {
		t.Fatalf("fractional score must fail")
	}
	if !strings.Contains(result.Reason, `"conviction"`) {
		t.Fatalf("reason must name the dimension: %q", result.Reason)
	}
}

func TestOnlyJSON(t *testing.T) {
	testCases := []struct {
		name     string
		input    any
		wantPass bool
	}{
		{"bare object", validOutput, true},
		{"fenced object", "```json\n" + invalidOutput + "\n```", true},
		{"embedded object", "verdict: " + invalidOutput, true},
		{"opaque structured payload", map[string]any{"status": 200.0}, true},
		{"prose only", "no json here", false},
		{"bare array", `[1, 2, 3]`, false},
		{"no output", nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := OnlyJSON(tc.input)
			if result.Passed != tc.wantPass {
				t.Fatalf("expected passed=%v got %+v", tc.wantPass, result)
			}
		})
	}
}

func TestExactScoreWithinTolerance(t *testing.T) {
	weights := verdict.DefaultWeights()
	expected := 70.0

	result := ExactScore(fenced(t, validOutput), &expected, weights)
	if !result.Passed {
		t.Fatalf("weighted 69 vs expected 70 must pass: %+v", result)
	}
	if result.Actual == nil || *result.Actual != 69 {
		t.Fatalf("expected actual 69, got %v", result.Actual)
	}
	if result.Diff == nil || *result.Diff != 1 {
		t.Fatalf("expected diff 1, got %v", result.Diff)
	}
	if result.Tolerance != 5 {
		t.Fatalf("expected tolerance 5, got %v", result.Tolerance)
	}
	if result.Credit != 0.69 {
		t.Fatalf("expected credit 0.69, got %v", result.Credit)
	}
}

func TestExactScoreOutsideTolerance(t *testing.T) {
	weights := verdict.DefaultWeights()
	expected := 50.0

	result := ExactScore(validOutput, &expected, weights)
	if result.Passed {
		t.Fatalf("weighted 69 vs expected 50 must fail")
	}
	if result.Actual == nil || *result.Actual != 69 {
		t.Fatalf("failure must still report the actual score, got %v", result.Actual)
	}
	if result.Diff == nil || *result.Diff != 19 {
		t.Fatalf("failure must still report the diff, got %v", result.Diff)
	}
	if result.Credit != 0.69 {
		t.Fatalf("failure keeps partial credit, got %v", result.Credit)
	}
}

func TestExactScoreEdgeCases(t *testing.T) {
	weights := verdict.DefaultWeights()

	result := ExactScore(validOutput, nil, weights)
	if result.Passed {
		t.Fatalf("missing expectation must fail the assertion")
	}
	if !strings.Contains(result.Reason, "no expected score") {
		t.Fatalf("unexpected reason %q", result.Reason)
	}

	expected := 50.0
	result = ExactScore(invalidOutput, &expected, weights)
	if result.Passed {
		t.Fatalf("invalid verdict has no score to compare")
	}
	if result.Actual != nil {
		t.Fatalf("invalid verdict must not report an actual score")
	}
}

func TestInvalidCase(t *testing.T) {
	if result := InvalidCase(invalidOutput); !result.Passed {
		t.Fatalf("null scores must pass: %+v", result)
	}

	allNull := `{"valid": false, "scores": {"consequentiality": null, "actionability": null, "foresightedness": null, "resolution_clarity": null, "verifiability": null, "conviction": null, "temporal_horizon": null}, "brief_rationale": "x"}`
	if result := InvalidCase(allNull); !result.Passed {
		t.Fatalf("all-null scores must pass: %+v", result)
	}

	if result := InvalidCase(validOutput); result.Passed {
		t.Fatalf("valid verdict must fail the invalid-case check")
	}
}

func TestCategoryGates(t *testing.T) {
	weights := verdict.DefaultWeights()

	lowOutput := `{"valid": true, "scores": {"consequentiality": 20, "actionability": 25, "foresightedness": 30, "resolution_clarity": 20, "verifiability": 25, "conviction": 30, "temporal_horizon": 20}, "brief_rationale": "weak"}`

	testCases := []struct {
		name     string
		input    string
		category string
		wantPass bool
	}{
		{"trivial rejected", invalidOutput, "trivial", true},
		{"trivial accepted is a failure", validOutput, "trivial", false},
		{"vague rejected", invalidOutput, "vague", true},
		{"vague scored low", lowOutput, "vague", true},
		{"vague scored high is a failure", validOutput, "vague", false},
		{"valid scored high", validOutput, "valid", true},
		{"valid rejected is a failure", invalidOutput, "valid", false},
		{"valid scored low is a failure", lowOutput, "valid", false},
		{"unknown category passes", "garbage output", "exotic", true},
		{"absent category passes", "garbage output", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Category(tc.input, tc.category, weights)
			if result.Passed != tc.wantPass {
				t.Fatalf("expected passed=%v got %+v", tc.wantPass, result)
			}
		})
	}
}
