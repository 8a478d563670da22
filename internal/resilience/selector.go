package resilience

import (
	"math"
	"time"
)

// Score weights for SelectBest. Success history and predicted failure
// dominate; responsiveness and host pressure temper the pick.
const (
	weightSuccessRate   = 0.3
	weightResponsive    = 0.2
	weightResources     = 0.2
	weightReliability   = 0.3
	failureRecencyScale = 3600.0 // seconds until a failure stops mattering
)

// Selector scores candidate algorithms against their health records,
// breaker states, and current host pressure.
type Selector struct {
	health   *HealthRegistry
	breakers *BreakerSet
	monitor  *ResourceMonitor
}

// NewSelector creates a selector reading from the given shared state.
func NewSelector(health *HealthRegistry, breakers *BreakerSet, monitor *ResourceMonitor) *Selector {
	return &Selector{health: health, breakers: breakers, monitor: monitor}
}

// PredictFailureProbability estimates, in [0,1], how likely the named
// algorithm is to fail right now. Historical failure rate is blended
// with failure recency and host pressure, then overridden by breaker
// state: an open breaker pins the estimate near certainty.
func (s *Selector) PredictFailureProbability(name string) float64 {
	h, ok := s.health.Get(name)
	if !ok {
		return 0
	}

	p := h.FailureRate()

	if h.LastFailureTime != nil {
		since := time.Since(*h.LastFailureTime).Seconds()
		recency := math.Exp(-since / failureRecencyScale)
		p = 0.7*p + 0.3*recency
	}

	p = 0.8*p + 0.2*s.monitor.DegradationLevel()

	switch s.breakers.Get(name).State() {
	case StateOpen:
		p = 0.95
	case StateHalfOpen:
		p = 0.5*p + 0.25
	case StateClosed:
	}

	return clamp01(p)
}

// Score computes the weighted fitness of an algorithm; higher is better.
func (s *Selector) Score(name string) float64 {
	h, _ := s.health.Get(name)

	responsiveness := 1 / (1 + h.AvgResponseTime.Seconds())

	return weightSuccessRate*h.SuccessRate() +
		weightResponsive*responsiveness +
		weightResources*(1-s.monitor.DegradationLevel()) +
		weightReliability*(1-s.PredictFailureProbability(name))
}

// SelectBest returns the highest-scoring candidate whose breaker is not
// open. When every candidate is open it returns the first candidate
// (the primary) as a better-than-nothing pick; the attempt path still
// gates on CanExecute.
func (s *Selector) SelectBest(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}

	best := ""
	bestScore := math.Inf(-1)
	for _, name := range candidates {
		if s.breakers.Get(name).State() == StateOpen {
			continue
		}
		if score := s.Score(name); score > bestScore {
			best, bestScore = name, score
		}
	}

	if best == "" {
		return candidates[0]
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
