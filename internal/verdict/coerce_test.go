package verdict

import (
	"encoding/json"
	"testing"
)

func TestCoercePayloadShapes(t *testing.T) {
	verdictJSON := `{"valid": true, "scores": {}, "brief_rationale": "ok"}`

	testCases := []struct {
		name  string
		input any
		want  any
	}{
		{"nil stays nil", nil, nil},
		{"plain string", "hello", "hello"},
		{"direct text field", map[string]any{"text": verdictJSON}, verdictJSON},
		{"content field", map[string]any{"content": verdictJSON}, verdictJSON},
		{"nested message content", map[string]any{"message": map[string]any{"content": verdictJSON}}, verdictJSON},
		{"nested response text", map[string]any{"response": map[string]any{"text": verdictJSON}}, verdictJSON},
		{"result string", map[string]any{"result": verdictJSON}, verdictJSON},
		{"unknown string field", map[string]any{"answer": verdictJSON}, verdictJSON},
		{"number passes through", 42, 42},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Coerce(tc.input)
			if got != tc.want {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}
}

func TestCoercePrefersCompleteObject(t *testing.T) {
	full := `{"valid": false, "scores": null, "brief_rationale": "no"}`
	embedded := `see {"partial": true} for details`

	payload := map[string]any{
		"text":    "just words, nothing structured",
		"content": embedded,
		"output":  full,
	}
	if got := Coerce(payload); got != full {
		t.Fatalf("expected complete object candidate, got %v", got)
	}

	payload = map[string]any{
		"text":    "just words",
		"content": embedded,
	}
	if got := Coerce(payload); got != embedded {
		t.Fatalf("expected embedded object candidate, got %v", got)
	}

	payload = map[string]any{"text": "just words"}
	if got := Coerce(payload); got != "just words" {
		t.Fatalf("expected first candidate fallback, got %v", got)
	}
}

func TestCoerceVerdictShapedPassThrough(t *testing.T) {
	doc := parseDoc(t, `{"valid": true, "scores": {"consequentiality": 50}, "brief_rationale": "x", "text": "ignored"}`)
	got := Coerce(doc)
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected map pass-through, got %T", got)
	}
	if _, ok := m["valid"]; !ok {
		t.Fatalf("verdict-shaped payload was rewritten: %v", m)
	}
}

func TestCoerceOpaqueObjectUnchanged(t *testing.T) {
	payload := map[string]any{"status": 200.0, "ok": true}
	got := Coerce(payload)
	if _, ok := got.(map[string]any); !ok {
		t.Fatalf("expected opaque object unchanged, got %T", got)
	}
}

func parseDoc(t *testing.T, raw string) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("parse doc: %v", err)
	}
	return doc
}
