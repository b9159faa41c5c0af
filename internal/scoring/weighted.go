// Package scoring collapses validated verdicts into single numbers: the
// weighted rubric score, the unweighted average, and the strike penalty.
package scoring

import (
	"math"

	"prediction-eval/backend/internal/verdict"
)

// WeightedScore folds a score map into one 0-100 integer using the supplied
// weight table. Rounding is half-to-even. Returns nil when any rubric
// dimension is missing or non-numeric.
func WeightedScore(scores map[string]any, weights verdict.Weights) *int {
	if scores == nil {
		return nil
	}
	total := 0.0
	for _, dim := range verdict.DimensionNames() {
		value, ok := scores[dim]
		if !ok {
			return nil
		}
		number, ok := asNumber(value)
		if !ok {
			return nil
		}
		total += weights[dim] * number
	}
	result := clampScore(int(math.RoundToEven(total)))
	return &result
}

// WeightedVerdictScore scores a parsed verdict; invalid verdicts score nil.
func WeightedVerdictScore(v *verdict.Verdict, weights verdict.Weights) *int {
	if v == nil || !v.Valid {
		return nil
	}
	scores := make(map[string]any, len(v.Scores))
	for dim, value := range v.Scores {
		scores[dim] = value
	}
	return WeightedScore(scores, weights)
}

// SimpleAverage is the unweighted mean of the integer scores present. Returns
// nil when no dimension carries an integer value.
func SimpleAverage(scores map[string]any) *float64 {
	if scores == nil {
		return nil
	}
	sum := 0.0
	count := 0
	for _, dim := range verdict.DimensionNames() {
		value, ok := scores[dim]
		if !ok {
			continue
		}
		number, ok := asNumber(value)
		if !ok || number != math.Trunc(number) {
			continue
		}
		sum += number
		count++
	}
	if count == 0 {
		return nil
	}
	avg := sum / float64(count)
	return &avg
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func clampScore(value int) int {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
