package resilience

import (
	"sync"
	"time"
)

// HealthStatus classifies an algorithm's recent reliability. Values are
// ordered by severity.
type HealthStatus int

// Health statuses, least to most severe.
const (
	StatusHealthy HealthStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusCritical
)

// String returns the lowercase status name.
func (s HealthStatus) String() string {
	switch s {
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusCritical:
		return "critical"
	default:
		return "healthy"
	}
}

// classifyHealth maps a failure rate onto a status. Recomputed on every
// update; never set directly.
func classifyHealth(failureRate float64) HealthStatus {
	switch {
	case failureRate > 0.5:
		return StatusCritical
	case failureRate > 0.2:
		return StatusUnhealthy
	case failureRate > 0.05:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

const (
	recentErrorCap = 10
	perfHistoryCap = 50
)

// AlgorithmHealth is a read-only snapshot of one algorithm's rolling
// statistics.
type AlgorithmHealth struct {
	Name            string
	Status          HealthStatus
	SuccessCount    int64
	FailureCount    int64
	TotalRequests   int64
	AvgResponseTime time.Duration
	LastSuccessTime *time.Time
	LastFailureTime *time.Time
	RecentErrors    []string
}

// FailureRate returns FailureCount / max(TotalRequests, 1).
func (h AlgorithmHealth) FailureRate() float64 {
	if h.TotalRequests == 0 {
		return 0
	}
	return float64(h.FailureCount) / float64(h.TotalRequests)
}

// SuccessRate returns SuccessCount / max(TotalRequests, 1).
func (h AlgorithmHealth) SuccessRate() float64 {
	if h.TotalRequests == 0 {
		return 0
	}
	return float64(h.SuccessCount) / float64(h.TotalRequests)
}

// healthRecord is the registry's mutable state for one algorithm.
type healthRecord struct {
	successCount  int64
	failureCount  int64
	totalRequests int64
	lastSuccessAt *time.Time
	lastFailureAt *time.Time

	// recentErrors keeps the last few error messages, oldest evicted.
	recentErrors []string

	// perfHistory is a fixed-capacity ring of recent attempt durations.
	perfHistory []time.Duration
	perfNext    int
	perfFull    bool

	avgResponse time.Duration
	status      HealthStatus
}

// HealthRegistry tracks rolling success/failure statistics per
// algorithm. Records are created at registration, mutated only through
// outcome-recording calls, and reset partially during healing.
type HealthRegistry struct {
	mu      sync.RWMutex
	records map[string]*healthRecord
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{records: make(map[string]*healthRecord)}
}

// Register creates a health record for name. Idempotent.
func (r *HealthRegistry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[name]; !ok {
		r.records[name] = &healthRecord{
			perfHistory: make([]time.Duration, perfHistoryCap),
		}
	}
}

// RecordSuccess records a successful attempt with its duration.
func (r *HealthRegistry) RecordSuccess(name string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return
	}

	now := time.Now()
	rec.successCount++
	rec.totalRequests++
	rec.lastSuccessAt = &now

	rec.perfHistory[rec.perfNext] = duration
	rec.perfNext = (rec.perfNext + 1) % perfHistoryCap
	if rec.perfNext == 0 {
		rec.perfFull = true
	}
	rec.avgResponse = rec.meanResponse()

	rec.status = classifyHealth(rec.failureRate())
}

// RecordFailure records a failed attempt with its error message.
func (r *HealthRegistry) RecordFailure(name, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return
	}

	now := time.Now()
	rec.failureCount++
	rec.totalRequests++
	rec.lastFailureAt = &now

	rec.recentErrors = append(rec.recentErrors, errMsg)
	if len(rec.recentErrors) > recentErrorCap {
		rec.recentErrors = rec.recentErrors[len(rec.recentErrors)-recentErrorCap:]
	}

	rec.status = classifyHealth(rec.failureRate())
}

// Heal forgives up to forgive recorded failures (floor zero) and clears
// the recent error list, recomputing status. Total requests shrink by
// the same amount so counters stay consistent.
func (r *HealthRegistry) Heal(name string, forgive int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return
	}

	if forgive > rec.failureCount {
		forgive = rec.failureCount
	}
	rec.failureCount -= forgive
	rec.totalRequests -= forgive
	rec.recentErrors = nil
	rec.status = classifyHealth(rec.failureRate())
}

// Get returns a snapshot of one algorithm's health.
func (r *HealthRegistry) Get(name string) (AlgorithmHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok {
		return AlgorithmHealth{}, false
	}
	return rec.snapshot(name), true
}

// All returns snapshots of every registered algorithm's health.
func (r *HealthRegistry) All() []AlgorithmHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AlgorithmHealth, 0, len(r.records))
	for name, rec := range r.records {
		out = append(out, rec.snapshot(name))
	}
	return out
}

func (rec *healthRecord) failureRate() float64 {
	if rec.totalRequests == 0 {
		return 0
	}
	return float64(rec.failureCount) / float64(rec.totalRequests)
}

func (rec *healthRecord) meanResponse() time.Duration {
	n := rec.perfNext
	if rec.perfFull {
		n = perfHistoryCap
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += rec.perfHistory[i]
	}
	return sum / time.Duration(n)
}

func (rec *healthRecord) snapshot(name string) AlgorithmHealth {
	errs := make([]string, len(rec.recentErrors))
	copy(errs, rec.recentErrors)

	return AlgorithmHealth{
		Name:            name,
		Status:          rec.status,
		SuccessCount:    rec.successCount,
		FailureCount:    rec.failureCount,
		TotalRequests:   rec.totalRequests,
		AvgResponseTime: rec.avgResponse,
		LastSuccessTime: rec.lastSuccessAt,
		LastFailureTime: rec.lastFailureAt,
		RecentErrors:    errs,
	}
}
