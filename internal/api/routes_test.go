package api

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParsePredictionCSVWithHeader(t *testing.T) {
	path := writeCSV(t, "id,agent,prediction,topic\n"+
		"p-1,atlas,BTC closes above 100k by March,crypto\n"+
		"p-2,boreas,ETH flips BTC this cycle,crypto\n"+
		"p-1,atlas,BTC closes above 100k by March,crypto\n")

	parsed, err := parsePredictionCSV(path)
	if err != nil {
		t.Fatalf("parsePredictionCSV: %v", err)
	}
	if parsed.rowCount != 3 {
		t.Fatalf("rowCount = %d, want 3", parsed.rowCount)
	}
	if len(parsed.predictionModels) != 2 {
		t.Fatalf("unique predictions = %d, want 2", len(parsed.predictionModels))
	}
	if parsed.duplicateRows != 1 {
		t.Fatalf("duplicateRows = %d, want 1", parsed.duplicateRows)
	}
	if len(parsed.predictionBatches) != 3 {
		t.Fatalf("batch rows = %d, want 3", len(parsed.predictionBatches))
	}

	first := parsed.predictionModels[0]
	if first.ID != "p-1" || first.Agent != "atlas" || first.Topic != "crypto" {
		t.Fatalf("unexpected first model: %+v", first)
	}
	if first.Text != "BTC closes above 100k by March" {
		t.Fatalf("unexpected text: %q", first.Text)
	}
}

func TestParsePredictionCSVWithoutHeader(t *testing.T) {
	path := writeCSV(t, "Gold hits 3000 by year end\nOil drops below 50\n")

	parsed, err := parsePredictionCSV(path)
	if err != nil {
		t.Fatalf("parsePredictionCSV: %v", err)
	}
	if parsed.rowCount != 2 {
		t.Fatalf("rowCount = %d, want 2", parsed.rowCount)
	}
	for _, model := range parsed.predictionModels {
		if model.ID == "" {
			t.Fatalf("expected derived id for %q", model.Text)
		}
	}
}

func TestParsePredictionCSVDerivedIDsStable(t *testing.T) {
	a := derivePredictionID("atlas", "BTC closes above 100k")
	b := derivePredictionID("Atlas", "btc CLOSES above 100k")
	if a != b {
		t.Fatalf("derived ids differ for case variants: %s vs %s", a, b)
	}
	c := derivePredictionID("boreas", "BTC closes above 100k")
	if a == c {
		t.Fatal("different agents must derive different ids")
	}
}

func TestDetectPredictionColumns(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		ok     bool
		text   int
		agent  int
	}{
		{"standard", []string{"id", "agent", "prediction", "topic"}, true, 2, 1},
		{"alternate names", []string{"author", "text", "posted_at"}, true, 1, 0},
		{"no text column", []string{"foo", "bar"}, false, -1, -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cols, ok := detectPredictionColumns(tc.header)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !tc.ok {
				return
			}
			if cols.text != tc.text {
				t.Fatalf("text column = %d, want %d", cols.text, tc.text)
			}
			if cols.agent != tc.agent {
				t.Fatalf("agent column = %d, want %d", cols.agent, tc.agent)
			}
		})
	}
}

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "predictions.csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}
