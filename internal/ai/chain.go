package ai

import (
	"context"
	"strings"
)

type judgeChain struct {
	primary  Judge
	fallback Judge
}

// WithFallback returns a judge that first tries the primary implementation and
// falls back to the provided judge when the primary is unavailable or produces
// an unusable response.
func WithFallback(primary, fallback Judge) Judge {
	if primary == nil {
		return fallback
	}
	if fallback == nil {
		return primary
	}
	return &judgeChain{primary: primary, fallback: fallback}
}

func (c *judgeChain) Enabled() bool {
	if c == nil {
		return false
	}
	if c.primary != nil && c.primary.Enabled() {
		return true
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return true
	}
	return false
}

func (c *judgeChain) Evaluate(ctx context.Context, req Request) (string, error) {
	if c == nil {
		return "", ErrDisabled
	}
	if c.primary != nil && c.primary.Enabled() {
		if output, err := c.primary.Evaluate(ctx, req); err == nil {
			if strings.TrimSpace(output) != "" {
				return output, nil
			}
		}
	}
	if c.fallback != nil && c.fallback.Enabled() {
		return c.fallback.Evaluate(ctx, req)
	}
	return "", ErrDisabled
}
