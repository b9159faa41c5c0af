package scoring

import (
	"fmt"
	"math"
)

// PenaltyConfig fixes the base penalty and its escalation ratio for repeated
// invalid verdicts.
type PenaltyConfig struct {
	Base       float64
	Escalation float64
}

// DefaultPenaltyConfig matches the calibrated production values.
func DefaultPenaltyConfig() PenaltyConfig {
	return PenaltyConfig{Base: 0.2, Escalation: 1.5}
}

// Validate rejects unusable configurations. A non-positive escalation ratio is
// refused here so Amount never has to handle it.
func (c PenaltyConfig) Validate() error {
	if c.Base < 0 {
		return fmt.Errorf("penalty base must be non-negative, got %v", c.Base)
	}
	if c.Escalation <= 0 {
		return fmt.Errorf("penalty escalation ratio must be positive, got %v", c.Escalation)
	}
	return nil
}

// Amount returns the cumulative penalty after the given number of strikes.
// With ratio 1 the series is linear; otherwise it is the closed-form geometric
// sum base * (r^k - 1) / (r - 1).
func (c PenaltyConfig) Amount(strikes int) float64 {
	if strikes <= 0 {
		return 0
	}
	k := float64(strikes)
	if c.Escalation == 1.0 {
		return c.Base * k
	}
	return c.Base * (math.Pow(c.Escalation, k) - 1) / (c.Escalation - 1)
}
