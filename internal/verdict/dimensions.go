package verdict

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
)

// Rubric dimensions in canonical order.
const (
	DimConsequentiality  = "consequentiality"
	DimActionability     = "actionability"
	DimForesightedness   = "foresightedness"
	DimResolutionClarity = "resolution_clarity"
	DimVerifiability     = "verifiability"
	DimConviction        = "conviction"
	DimTemporalHorizon   = "temporal_horizon"
)

var dimensionOrder = []string{
	DimConsequentiality,
	DimActionability,
	DimForesightedness,
	DimResolutionClarity,
	DimVerifiability,
	DimConviction,
	DimTemporalHorizon,
}

// DimensionNames returns the rubric dimensions in canonical order.
func DimensionNames() []string {
	out := make([]string, len(dimensionOrder))
	copy(out, dimensionOrder)
	return out
}

// IsDimension reports whether name is one of the rubric dimensions.
func IsDimension(name string) bool {
	for _, dim := range dimensionOrder {
		if dim == name {
			return true
		}
	}
	return false
}

// Weights maps each rubric dimension to its share of the weighted score.
type Weights map[string]float64

// DefaultWeights returns the calibrated weight table. Callers get a copy and
// may mutate it freely before Validate.
func DefaultWeights() Weights {
	return Weights{
		DimConsequentiality:  0.25,
		DimActionability:     0.15,
		DimForesightedness:   0.20,
		DimResolutionClarity: 0.20,
		DimVerifiability:     0.10,
		DimConviction:        0.06,
		DimTemporalHorizon:   0.04,
	}
}

const weightSumTolerance = 1e-9

// Validate checks the table covers exactly the rubric dimensions and sums to 1.
func (w Weights) Validate() error {
	for _, dim := range dimensionOrder {
		value, ok := w[dim]
		if !ok {
			return fmt.Errorf("weights missing dimension %q", dim)
		}
		if value < 0 {
			return fmt.Errorf("weight for %q must be non-negative", dim)
		}
	}
	if len(w) != len(dimensionOrder) {
		for _, key := range sortedKeys(w) {
			if !IsDimension(key) {
				return fmt.Errorf("weights contain unknown dimension %q", key)
			}
		}
	}
	sum := 0.0
	for _, value := range w {
		sum += value
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// LoadWeights reads a weight table from the supplied JSON file and validates it.
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights file: %w", err)
	}

	var weights Weights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("parse weights file: %w", err)
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return weights, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
