package verdict

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestDefaultWeightsValidate(t *testing.T) {
	weights := DefaultWeights()
	if err := weights.Validate(); err != nil {
		t.Fatalf("default weights must validate: %v", err)
	}
	if len(weights) != len(DimensionNames()) {
		t.Fatalf("expected %d weights got %d", len(DimensionNames()), len(weights))
	}
}

func TestWeightsValidateRejections(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(Weights)
		wantErr string
	}{
		{"missing dimension", func(w Weights) { delete(w, DimConviction) }, "missing dimension"},
		{"unknown dimension", func(w Weights) { w["sentiment"] = 0.0 }, "unknown dimension"},
		{"negative weight", func(w Weights) { w[DimConviction] = -0.06; w[DimConsequentiality] = 0.37 }, "non-negative"},
		{"bad sum", func(w Weights) { w[DimConsequentiality] = 0.5 }, "sum to 1.0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			weights := DefaultWeights()
			tc.mutate(weights)
			err := weights.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoadWeights(t *testing.T) {
	path := writeWeightsFile(t, DefaultWeights())
	weights, err := LoadWeights(path)
	if err != nil {
		t.Fatalf("load weights: %v", err)
	}
	if weights[DimConsequentiality] != 0.25 {
		t.Fatalf("unexpected weight: %v", weights[DimConsequentiality])
	}

	broken := DefaultWeights()
	delete(broken, DimTemporalHorizon)
	if _, err := LoadWeights(writeWeightsFile(t, broken)); err == nil {
		t.Fatalf("expected rejection of incomplete weights file")
	}

	if _, err := LoadWeights("does-not-exist.json"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func writeWeightsFile(t *testing.T, weights Weights) string {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "weights-*.json")
	if err != nil {
		t.Fatalf("weights temp: %v", err)
	}
	data, err := json.Marshal(weights)
	if err != nil {
		t.Fatalf("marshal weights: %v", err)
	}
	if _, err := tmp.Write(data); err != nil {
		t.Fatalf("write weights: %v", err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatalf("close weights: %v", err)
	}
	return tmp.Name()
}
