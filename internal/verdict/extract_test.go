package verdict

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestExtractStrategies(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  map[string]any
	}{
		{
			"whole string",
			`{"valid": true}`,
			map[string]any{"valid": true},
		},
		{
			"leading and trailing whitespace",
			"\n  {\"valid\": false}  \n",
			map[string]any{"valid": false},
		},
		{
			"json fence",
			"Here you go:\n```json\n{\"valid\": true}\n```\nHope that helps.",
			map[string]any{"valid": true},
		},
		{
			"fence without closer",
			"```json\n{\"valid\": true}",
			map[string]any{"valid": true},
		},
		{
			"brace substring",
			`The verdict is {"valid": true} as requested.`,
			map[string]any{"valid": true},
		},
		{
			"prose around nested object",
			`Result: {"valid": true, "scores": {"conviction": 3}} done`,
			map[string]any{"valid": true, "scores": map[string]any{"conviction": float64(3)}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Extract(tc.input)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if !reflect.DeepEqual(got, map[string]any(tc.want)) {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}
}

func TestExtractFailures(t *testing.T) {
	if _, err := Extract(nil); KindOf(err) != KindNoOutput {
		t.Fatalf("expected no-output kind, got %v", err)
	}

	for _, input := range []string{"", "no braces here", "} reversed {", "{not json}"} {
		_, err := Extract(input)
		if KindOf(err) != KindUnparsable {
			t.Fatalf("input %q: expected unparsable kind, got %v", input, err)
		}
	}
}

func TestExtractStructuredPassThrough(t *testing.T) {
	doc := map[string]any{"valid": true, "scores": nil}
	got, err := Extract(doc)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !reflect.DeepEqual(got, doc) {
		t.Fatalf("expected pass-through, got %v", got)
	}
}

// Serializing a document and extracting it again must yield the same document.
func TestExtractRoundTrip(t *testing.T) {
	doc := map[string]any{
		"valid": true,
		"scores": map[string]any{
			"consequentiality": float64(80),
			"conviction":       float64(40),
		},
		"brief_rationale": "round trip",
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	for _, wrapped := range []string{
		string(data),
		"```json\n" + string(data) + "\n```",
		"prefix " + string(data) + " suffix",
	} {
		got, err := Extract(wrapped)
		if err != nil {
			t.Fatalf("extract %q: %v", wrapped, err)
		}
		if !reflect.DeepEqual(got, doc) {
			t.Fatalf("round trip mismatch for %q: %v", wrapped, got)
		}
	}
}
