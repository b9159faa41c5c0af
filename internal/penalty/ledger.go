// Package penalty turns stored evaluation outcomes into per-agent weights:
// each agent's mean weighted score discounted by the escalation penalty its
// invalid verdicts have accrued inside the scoring window.
package penalty

import (
	"fmt"
	"math"
	"sync"
	"time"

	"prediction-eval/backend/internal/scoring"
	"prediction-eval/backend/internal/store"
)

// AgentWeight is the final standing of one agent.
type AgentWeight struct {
	Agent     string  `json:"agent"`
	Evaluated int64   `json:"evaluated"`
	Strikes   int64   `json:"strikes"`
	MeanScore float64 `json:"mean_score"`
	Penalty   float64 `json:"penalty"`
	Weight    int     `json:"weight"`
}

// Ledger computes agent weights over a sliding window with a short-lived cache.
type Ledger struct {
	db     *store.Database
	cfg    scoring.PenaltyConfig
	window time.Duration

	cacheMu    sync.RWMutex
	cached     []AgentWeight
	cachedAt   time.Time
	cacheTTL   time.Duration
	generation uint64
}

// NewLedger constructs a ledger if the penalty configuration is valid.
func NewLedger(db *store.Database, cfg scoring.PenaltyConfig, window time.Duration) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("penalty config: %w", err)
	}
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &Ledger{
		db:       db,
		cfg:      cfg,
		window:   window,
		cacheTTL: 30 * time.Second,
	}, nil
}

// Config returns the penalty configuration in force.
func (l *Ledger) Config() scoring.PenaltyConfig {
	return l.cfg
}

// Window returns the scoring window in force.
func (l *Ledger) Window() time.Duration {
	return l.window
}

// Invalidate drops the cache; call after new evaluations land.
func (l *Ledger) Invalidate() {
	if l == nil {
		return
	}
	l.cacheMu.Lock()
	l.cached = nil
	l.generation++
	l.cacheMu.Unlock()
}

// Weights returns current agent weights, most recently computed within the
// cache TTL or fresh from the store.
func (l *Ledger) Weights() ([]AgentWeight, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is nil")
	}

	l.cacheMu.RLock()
	if l.cached != nil && time.Since(l.cachedAt) < l.cacheTTL {
		out := l.cached
		l.cacheMu.RUnlock()
		return out, nil
	}
	generation := l.generation
	l.cacheMu.RUnlock()

	stats, err := l.db.AgentStats(time.Now().Add(-l.window))
	if err != nil {
		return nil, fmt.Errorf("aggregate agent stats: %w", err)
	}

	weights := make([]AgentWeight, 0, len(stats))
	for _, stat := range stats {
		weights = append(weights, l.weighAgent(stat))
	}

	l.cacheMu.Lock()
	if l.generation == generation {
		l.cached = weights
		l.cachedAt = time.Now()
	}
	l.cacheMu.Unlock()
	return weights, nil
}

// weighAgent applies the penalty to the agent's mean score. The penalty is a
// fraction of the score withheld, saturating at total forfeiture.
func (l *Ledger) weighAgent(stat store.AgentStat) AgentWeight {
	out := AgentWeight{
		Agent:     stat.Agent,
		Evaluated: stat.Evaluated,
		Strikes:   stat.Invalid,
	}
	if stat.MeanWeighted != nil {
		out.MeanScore = *stat.MeanWeighted
	}
	out.Penalty = l.cfg.Amount(int(stat.Invalid))

	discount := out.Penalty
	if discount > 1 {
		discount = 1
	}
	weight := int(math.RoundToEven(out.MeanScore * (1 - discount)))
	if weight < 0 {
		weight = 0
	}
	if weight > 100 {
		weight = 100
	}
	out.Weight = weight
	return out
}
