// Package checks runs scenario assertions against raw judge outputs. Each
// check is self-contained: it coerces and parses the payload itself and
// reports a pass/fail result rather than returning an error.
package checks

import (
	"fmt"
	"math"

	"prediction-eval/backend/internal/scoring"
	"prediction-eval/backend/internal/verdict"
)

// ScoreTolerance is the maximum absolute gap allowed by the exact-score check.
const ScoreTolerance = 5.0

// Result reports a single assertion outcome.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// ScoreResult extends Result with the numeric context of a score comparison.
// Actual/Expected/Diff are reported whenever they could be computed, pass or
// fail. Credit is the partial credit in [0,1] derived from the actual score.
type ScoreResult struct {
	Result
	Actual    *int     `json:"actual,omitempty"`
	Expected  *float64 `json:"expected,omitempty"`
	Diff      *float64 `json:"diff,omitempty"`
	Tolerance float64  `json:"tolerance"`
	Credit    float64  `json:"credit"`
}

func pass(name string) Result {
	return Result{Name: name, Passed: true}
}

func fail(name, format string, args ...any) Result {
	return Result{Name: name, Passed: false, Reason: fmt.Sprintf(format, args...)}
}

// StructuredJSON asserts the output coerces and parses into a verdict that
// satisfies the structural schema.
func StructuredJSON(raw any) Result {
	const name = "structured_json"
	doc, err := verdict.Extract(verdict.Coerce(raw))
	if err != nil {
		return fail(name, "%v", err)
	}
	if err := verdict.ValidateShape(doc); err != nil {
		return fail(name, "%v", err)
	}
	return pass(name)
}

// ScoreTypes asserts score values match the verdict's validity: integers in
// [0,100] when valid, nulls when invalid.
func ScoreTypes(raw any) Result {
	const name = "score_types"
	doc, err := verdict.Extract(verdict.Coerce(raw))
	if err != nil {
		return fail(name, "%v", err)
	}
	if err := verdict.ValidateScoreTypes(doc); err != nil {
		return fail(name, "%v", err)
	}
	return pass(name)
}

// OnlyJSON asserts the judge emitted nothing but a JSON object. Structured
// payloads that are not strings pass as-is, the long-standing permissive
// behaviour downstream consumers rely on.
func OnlyJSON(raw any) Result {
	const name = "only_json_output"
	coerced := verdict.Coerce(raw)
	if coerced == nil {
		return fail(name, "judge produced no output")
	}
	if _, ok := coerced.(string); !ok {
		return pass(name)
	}
	doc, err := verdict.Extract(coerced)
	if err != nil {
		return fail(name, "%v", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return fail(name, "output parsed to %T, not a JSON object", doc)
	}
	return pass(name)
}

// ExactScore asserts the weighted score lands within ScoreTolerance of the
// expectation. A missing expectation is itself a failed assertion. The verdict
// must be valid for a score to exist at all.
func ExactScore(raw any, expected *float64, weights verdict.Weights) ScoreResult {
	const name = "exact_score"
	out := ScoreResult{Result: pass(name), Tolerance: ScoreTolerance}

	if expected == nil {
		out.Result = fail(name, "no expected score provided for this scenario")
		return out
	}
	out.Expected = expected

	v, err := verdict.Parse(raw)
	if err != nil {
		out.Result = fail(name, "%v", err)
		return out
	}
	if !v.Valid {
		out.Result = fail(name, "verdict is invalid, no score to compare")
		return out
	}

	actual := scoring.WeightedVerdictScore(v, weights)
	if actual == nil {
		out.Result = fail(name, "weighted score could not be computed")
		return out
	}
	out.Actual = actual
	out.Credit = clampUnit(float64(*actual) / 100)

	diff := math.Abs(float64(*actual) - *expected)
	out.Diff = &diff
	if diff > ScoreTolerance {
		out.Result = fail(name, "expected %.1f got %d (diff %.1f exceeds tolerance %.1f)", *expected, *actual, diff, ScoreTolerance)
	}
	return out
}

// InvalidCase asserts the verdict marked the prediction invalid and carried no
// score values. Offenders are named in canonical dimension order.
func InvalidCase(raw any) Result {
	const name = "invalid_case"
	v, err := verdict.Parse(raw)
	if err != nil {
		return fail(name, "%v", err)
	}
	if v.Valid {
		return fail(name, "expected valid=false, judge marked the prediction valid")
	}
	doc, err := verdict.Extract(verdict.Coerce(raw))
	if err != nil {
		return fail(name, "%v", err)
	}
	scores, _ := doc.(map[string]any)["scores"].(map[string]any)
	for _, dim := range verdict.DimensionNames() {
		if value, ok := scores[dim]; ok && value != nil {
			return fail(name, "score %q must be null when valid is false", dim)
		}
	}
	return pass(name)
}

// Category thresholds applied by the gated check.
const (
	vagueMaxAverage = 30.0
	validMinAverage = 60.0
)

// Category runs the category-gated assertion: trivial predictions must be
// rejected, vague ones rejected or scored low, valid ones accepted and scored
// well. Unknown or absent categories pass trivially.
func Category(raw any, category string, weights verdict.Weights) Result {
	name := "category"
	if category != "" {
		name = "category_" + category
	}

	switch category {
	case "trivial":
		v, err := verdict.Parse(raw)
		if err != nil {
			return fail(name, "%v", err)
		}
		if v.Valid {
			return fail(name, "trivial prediction must be marked invalid")
		}
		return pass(name)
	case "vague":
		v, err := verdict.Parse(raw)
		if err != nil {
			return fail(name, "%v", err)
		}
		if !v.Valid {
			return pass(name)
		}
		avg := simpleVerdictAverage(v)
		if avg == nil {
			return fail(name, "vague prediction scored with no usable values")
		}
		if *avg > vagueMaxAverage {
			return fail(name, "vague prediction averaged %.1f, above the %.0f ceiling", *avg, vagueMaxAverage)
		}
		return pass(name)
	case "valid":
		v, err := verdict.Parse(raw)
		if err != nil {
			return fail(name, "%v", err)
		}
		if !v.Valid {
			return fail(name, "valid prediction must be marked valid")
		}
		avg := simpleVerdictAverage(v)
		if avg == nil {
			return fail(name, "valid prediction scored with no usable values")
		}
		if *avg < validMinAverage {
			return fail(name, "valid prediction averaged %.1f, below the %.0f floor", *avg, validMinAverage)
		}
		return pass(name)
	default:
		return pass(name)
	}
}

func simpleVerdictAverage(v *verdict.Verdict) *float64 {
	scores := make(map[string]any, len(v.Scores))
	for dim, value := range v.Scores {
		scores[dim] = value
	}
	return scoring.SimpleAverage(scores)
}

func clampUnit(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
