package scoring

import (
	"math"
	"testing"
)

func TestPenaltyAmountLinear(t *testing.T) {
	cfg := PenaltyConfig{Base: 0.2, Escalation: 1.0}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := cfg.Amount(0); got != 0 {
		t.Fatalf("zero strikes must cost nothing, got %v", got)
	}
	if got := cfg.Amount(5); math.Abs(got-1.0) > 1e-12 {
		t.Fatalf("expected 1.0 got %v", got)
	}
}

func TestPenaltyAmountEscalation(t *testing.T) {
	cfg := PenaltyConfig{Base: 0.2, Escalation: 1.5}

	expected := []struct {
		strikes int
		want    float64
	}{
		{1, 0.20},
		{2, 0.50},
		{3, 0.95},
		{4, 1.62},
	}
	for _, tc := range expected {
		got := cfg.Amount(tc.strikes)
		if math.Abs(got-tc.want) > 0.01 {
			t.Fatalf("strikes %d: expected %v got %v", tc.strikes, tc.want, got)
		}
	}
}

func TestPenaltyAmountMonotonic(t *testing.T) {
	configs := []PenaltyConfig{
		{Base: 0.2, Escalation: 1.0},
		{Base: 0.2, Escalation: 1.5},
		{Base: 0.05, Escalation: 2.0},
		{Base: 0.3, Escalation: 0.5},
	}
	for _, cfg := range configs {
		prev := cfg.Amount(0)
		for k := 1; k <= 10; k++ {
			current := cfg.Amount(k)
			if current < prev {
				t.Fatalf("config %+v: penalty decreased at %d strikes (%v < %v)", cfg, k, current, prev)
			}
			prev = current
		}
	}
}

func TestPenaltyConfigValidate(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     PenaltyConfig
		wantErr bool
	}{
		{"defaults", DefaultPenaltyConfig(), false},
		{"linear", PenaltyConfig{Base: 0.1, Escalation: 1.0}, false},
		{"dampened ratio", PenaltyConfig{Base: 0.1, Escalation: 0.5}, false},
		{"zero ratio", PenaltyConfig{Base: 0.1, Escalation: 0}, true},
		{"negative ratio", PenaltyConfig{Base: 0.1, Escalation: -1.5}, true},
		{"negative base", PenaltyConfig{Base: -0.1, Escalation: 1.5}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected rejection")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
