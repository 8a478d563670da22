package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/packgate/packgate/internal/codec"
)

// Predefined errors for supervisor operations.
var (
	// ErrCircuitOpen is returned when an algorithm's breaker rejects
	// the attempt.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrAttemptTimeout is returned when a single attempt exceeds its
	// deadline and is abandoned.
	ErrAttemptTimeout = errors.New("compression attempt timed out")

	// ErrNotRegistered is returned when a named algorithm is unknown.
	ErrNotRegistered = errors.New("algorithm not registered")
)

// Metadata algorithm names used by the emergency path.
const (
	emergencyAlgorithm   = "emergency-gzip"
	passthroughAlgorithm = "none"
)

// ErrorRecord describes one exhausted algorithm in a fallback run.
type ErrorRecord struct {
	Algorithm string `json:"algorithm"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
}

// SupervisorConfig holds configuration for the degradation supervisor.
type SupervisorConfig struct {
	// Logger for supervisor events.
	Logger zerolog.Logger

	// Retry governs per-algorithm retry behavior. Zero value takes
	// DefaultRetryPolicy.
	Retry RetryPolicy

	// Breaker configures every per-algorithm circuit breaker.
	Breaker BreakerConfig

	// Monitor configures the resource sampler.
	Monitor MonitorConfig

	// RecoveryInterval is the auto-recovery loop period. Default: 60s
	RecoveryInterval time.Duration

	// HealCooldown is how long after the last failure an unhealthy
	// algorithm becomes eligible for healing. Default: 300s
	HealCooldown time.Duration

	// HealForgiveness is how many failures one Heal call forgives.
	// Default: 5
	HealForgiveness int64
}

// DegradationSupervisor fronts a set of interchangeable compressors and
// guarantees that a compression request produces a usable result even
// when individual codecs are slow, erroring, or the host is under
// pressure. It owns the health registry, the per-algorithm breakers,
// the resource monitor, and the two background loops.
type DegradationSupervisor struct {
	logger           zerolog.Logger
	retry            RetryPolicy
	recoveryInterval time.Duration
	healCooldown     time.Duration
	healForgiveness  int64

	mu      sync.RWMutex
	codecs  map[string]codec.Compressor
	chain   []string
	primary string

	health   *HealthRegistry
	breakers *BreakerSet
	monitor  *ResourceMonitor
	selector *Selector
	metrics  *supervisorMetrics

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewSupervisor creates a supervisor. Call Start to launch the resource
// sampler and auto-recovery loops, and Stop to join them.
func NewSupervisor(cfg SupervisorConfig) (*DegradationSupervisor, error) {
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 60 * time.Second
	}
	if cfg.HealCooldown <= 0 {
		cfg.HealCooldown = 300 * time.Second
	}
	if cfg.HealForgiveness <= 0 {
		cfg.HealForgiveness = 5
	}
	cfg.Monitor.Logger = cfg.Logger

	metrics, err := newSupervisorMetrics()
	if err != nil {
		return nil, err
	}

	health := NewHealthRegistry()
	breakers := NewBreakerSet(cfg.Breaker)
	monitor := NewResourceMonitor(cfg.Monitor)

	return &DegradationSupervisor{
		logger:           cfg.Logger,
		retry:            cfg.Retry.withDefaults(),
		recoveryInterval: cfg.RecoveryInterval,
		healCooldown:     cfg.HealCooldown,
		healForgiveness:  cfg.HealForgiveness,
		codecs:           make(map[string]codec.Compressor),
		health:           health,
		breakers:         breakers,
		monitor:          monitor,
		selector:         NewSelector(health, breakers, monitor),
		metrics:          metrics,
	}, nil
}

// RegisterAlgorithm adds a compressor under its name. Idempotent; the
// first registration becomes the primary. Register best-ratio codecs
// first: the chain is tried in registration order and truncated to its
// tail under resource pressure.
func (s *DegradationSupervisor) RegisterAlgorithm(name string, c codec.Compressor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codecs[name]; ok {
		return
	}
	s.codecs[name] = c
	s.chain = append(s.chain, name)
	if s.primary == "" {
		s.primary = name
	}

	s.health.Register(name)
	s.breakers.Get(name)

	s.logger.Info().Str("algorithm", name).Bool("primary", s.primary == name).Msg("algorithm registered")
}

// Start launches the resource sampler and the auto-recovery loop.
// Idempotent.
func (s *DegradationSupervisor) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.monitor.Start(loopCtx)

	s.wg.Add(1)
	go s.recoveryLoop(loopCtx)

	s.logger.Info().Dur("recovery_interval", s.recoveryInterval).Msg("supervisor started")
}

// Stop cancels both background loops and waits for their current
// iterations to finish. Idempotent.
func (s *DegradationSupervisor) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.monitor.Stop()
	s.cancel = nil

	s.logger.Info().Msg("supervisor stopped")
}

func (s *DegradationSupervisor) recoveryLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeAutoRecover()
		}
	}
}

func (s *DegradationSupervisor) safeAutoRecover() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("auto-recovery panicked")
		}
	}()
	s.AutoRecover()
}

// CompressWithFallback compresses data, walking the fallback chain until
// one algorithm succeeds. It never returns an error that prevents
// obtaining a byte sequence except for empty input and caller
// cancellation: when every candidate is exhausted the emergency path
// produces gzip-at-best-speed output or, failing that, the original
// bytes tagged uncompressed. The returned records describe every
// algorithm that was tried and exhausted.
func (s *DegradationSupervisor) CompressWithFallback(ctx context.Context, data []byte, params codec.Params) (*codec.Result, []ErrorRecord, error) {
	if len(data) == 0 {
		return nil, nil, codec.ErrEmptyInput
	}

	chain := s.BuildWorkingChain()
	chain = s.prioritize(chain)

	var records []ErrorRecord
	for _, name := range chain {
		comp := s.compressor(name)
		if comp == nil {
			continue
		}

		cb := s.breakers.Get(name)
		if !cb.CanExecute() {
			s.logger.Debug().Str("algorithm", name).Msg("breaker open, skipping algorithm")
			continue
		}

		res, attempts, err := s.tryCompress(ctx, name, comp, data, params)
		if err == nil {
			s.health.RecordSuccess(name, res.Metadata.Duration)
			cb.RecordSuccess()
			s.metrics.recordOutcome(ctx, name, "success", res.Metadata.Duration)
			return res, records, nil
		}

		if ctx.Err() != nil {
			// The caller's own context expired: stop immediately, do
			// not swallow it in the emergency path.
			return nil, records, ctx.Err()
		}

		if attempts == 0 {
			// Breaker opened between the outer gate and the first
			// attempt (concurrent caller); treat as a skip.
			continue
		}

		s.health.RecordFailure(name, err.Error())
		cb.RecordFailure()
		records = append(records, ErrorRecord{Algorithm: name, Error: err.Error(), Attempts: attempts})
		s.metrics.recordOutcome(ctx, name, "exhausted", 0)

		s.logger.Warn().
			Str("algorithm", name).
			Int("attempts", attempts).
			Err(err).
			Msg("algorithm exhausted, advancing fallback chain")
	}

	if ctx.Err() != nil {
		return nil, records, ctx.Err()
	}

	res := s.emergencyCompress(data)
	s.metrics.recordEmergency(ctx, res.Metadata.Uncompressed)
	s.logger.Warn().
		Int("candidates_failed", len(records)).
		Bool("uncompressed", res.Metadata.Uncompressed).
		Msg("fallback chain exhausted, emergency path used")

	return res, records, nil
}

// tryCompress runs the retry loop for a single algorithm. Returns the
// result, the number of attempts actually executed, and the final error
// when all attempts failed.
func (s *DegradationSupervisor) tryCompress(ctx context.Context, name string, comp codec.Compressor, data []byte, params codec.Params) (*codec.Result, int, error) {
	cb := s.breakers.Get(name)
	timeout := attemptTimeout(len(data))

	attempts := 0
	var res *codec.Result

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		// Re-check before every attempt: an Open transition during the
		// backoff window aborts the remaining retries.
		if !cb.CanExecute() {
			return backoff.Permanent(ErrCircuitOpen)
		}

		attempts++
		out, meta, err := s.runAttempt(ctx, comp, data, params, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		res = &codec.Result{Data: out, Metadata: meta}
		return nil
	}

	err := backoff.Retry(op, s.retry.BackOff(ctx))
	if err != nil {
		return nil, attempts, err
	}
	return res, attempts, nil
}

type attemptResult struct {
	out  []byte
	meta codec.Metadata
	err  error
}

// runAttempt executes one compression attempt under a hard deadline.
// The codec is not guaranteed to be cancellable, so on expiry the call
// is abandoned rather than waited for; the buffered channel lets the
// stray goroutine finish without blocking.
func (s *DegradationSupervisor) runAttempt(ctx context.Context, comp codec.Compressor, data []byte, params codec.Params, timeout time.Duration) ([]byte, codec.Metadata, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan attemptResult, 1)
	go func() {
		out, meta, err := comp.Compress(data, params)
		ch <- attemptResult{out: out, meta: meta, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.meta, r.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, codec.Metadata{}, err
		}
		return nil, codec.Metadata{}, ErrAttemptTimeout
	}
}

// attemptTimeout scales the per-attempt deadline with payload size:
// 5 seconds per megabyte, floor 10 seconds.
func attemptTimeout(size int) time.Duration {
	d := time.Duration(float64(size) / 1e6 * 5 * float64(time.Second))
	if d < 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

// BuildWorkingChain returns the call's candidate list: the full stored
// chain normally, only its last two entries (the cheapest codecs) when
// the host is under resource pressure. The stored chain is never
// mutated.
func (s *DegradationSupervisor) BuildWorkingChain() []string {
	s.mu.RLock()
	chain := make([]string, len(s.chain))
	copy(chain, s.chain)
	s.mu.RUnlock()

	if len(chain) > 2 && s.monitor.ShouldDegrade() {
		chain = chain[len(chain)-2:]
	}
	return chain
}

// prioritize moves the selector's best pick to the front of the chain,
// preserving the relative order of the rest.
func (s *DegradationSupervisor) prioritize(chain []string) []string {
	if len(chain) < 2 {
		return chain
	}

	best := s.selector.SelectBest(chain)
	if best == "" || best == chain[0] {
		return chain
	}

	out := make([]string, 0, len(chain))
	out = append(out, best)
	for _, name := range chain {
		if name != best {
			out = append(out, name)
		}
	}
	return out
}

func (s *DegradationSupervisor) compressor(name string) codec.Compressor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codecs[name]
}

// DecompressWithFallback restores the original bytes of a payload
// produced by CompressWithFallback. The recorded algorithm determines
// the codec; an open breaker does not block decompression because only
// the producing codec can decode the payload, but outcomes are still
// recorded into health and breaker state.
func (s *DegradationSupervisor) DecompressWithFallback(ctx context.Context, data []byte, algorithm string) ([]byte, error) {
	if len(data) == 0 {
		return nil, codec.ErrEmptyInput
	}

	switch algorithm {
	case "", passthroughAlgorithm:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case emergencyAlgorithm:
		return emergencyDecompress(data)
	}

	comp := s.compressor(algorithm)
	if comp == nil {
		return nil, ErrNotRegistered
	}

	cb := s.breakers.Get(algorithm)
	var out []byte

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		start := time.Now()
		decoded, err := comp.Decompress(data)
		if err != nil {
			if errors.Is(err, codec.ErrCorruptData) {
				// Retrying cannot fix a corrupt payload.
				return backoff.Permanent(err)
			}
			return err
		}
		out = decoded
		s.health.RecordSuccess(algorithm, time.Since(start))
		cb.RecordSuccess()
		return nil
	}

	if err := backoff.Retry(op, s.retry.BackOff(ctx)); err != nil {
		if ctx.Err() == nil && !errors.Is(err, codec.ErrCorruptData) {
			s.health.RecordFailure(algorithm, err.Error())
			cb.RecordFailure()
		}
		return nil, err
	}
	return out, nil
}

// Heal forgives part of an algorithm's failure history and, when its
// half-open breaker has demonstrated recovery (success rate above 0.8),
// forces the breaker closed.
func (s *DegradationSupervisor) Heal(name string) {
	s.health.Heal(name, s.healForgiveness)

	cb := s.breakers.Get(name)
	if cb.State() != StateHalfOpen {
		return
	}
	if h, ok := s.health.Get(name); ok && h.SuccessRate() > 0.8 {
		cb.ForceClose()
		s.logger.Info().Str("algorithm", name).Msg("breaker force-closed after healing")
	}
}

// AutoRecover heals algorithms whose failures have gone quiet and
// nudges recovered breakers toward half-open. The recovery loop calls
// this on a fixed interval; it is also safe to invoke directly.
func (s *DegradationSupervisor) AutoRecover() {
	for _, h := range s.health.All() {
		if h.Status != StatusUnhealthy && h.Status != StatusCritical {
			continue
		}
		if h.LastFailureTime == nil || time.Since(*h.LastFailureTime) <= s.healCooldown {
			continue
		}
		s.logger.Info().Str("algorithm", h.Name).Str("status", h.Status.String()).Msg("healing quiet algorithm")
		s.Heal(h.Name)
	}

	for _, name := range s.breakers.Names() {
		if s.breakers.Get(name).ProbeRecovery() {
			s.logger.Info().Str("algorithm", name).Msg("breaker probed to half-open")
		}
	}
}

// AlgorithmReport is one algorithm's entry in the system health report.
type AlgorithmReport struct {
	Name            string        `json:"name"`
	Status          string        `json:"status"`
	SuccessRate     float64       `json:"successRate"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	BreakerState    string        `json:"breakerState"`
	TotalRequests   int64         `json:"totalRequests"`
}

// SystemReport is a read-only snapshot of supervisor-wide health.
type SystemReport struct {
	Status           string            `json:"status"`
	DegradationLevel float64           `json:"degradationLevel"`
	Resources        ResourceSnapshot  `json:"resources"`
	Algorithms       []AlgorithmReport `json:"algorithms"`
	Timestamp        time.Time         `json:"timestamp"`
}

// SystemHealth combines per-algorithm status, breaker states, the
// current resource snapshot, and the overall worst-of status.
func (s *DegradationSupervisor) SystemHealth() SystemReport {
	all := s.health.All()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	worst := StatusHealthy
	reports := make([]AlgorithmReport, 0, len(all))
	for _, h := range all {
		if h.Status > worst {
			worst = h.Status
		}
		reports = append(reports, AlgorithmReport{
			Name:            h.Name,
			Status:          h.Status.String(),
			SuccessRate:     h.SuccessRate(),
			AvgResponseTime: h.AvgResponseTime,
			BreakerState:    s.breakers.Get(h.Name).State().String(),
			TotalRequests:   h.TotalRequests,
		})
	}

	return SystemReport{
		Status:           worst.String(),
		DegradationLevel: s.monitor.DegradationLevel(),
		Resources:        s.monitor.Current(),
		Algorithms:       reports,
		Timestamp:        time.Now(),
	}
}

// Monitor exposes the resource monitor, mainly so tests and the ops
// surface can inject or inspect snapshots.
func (s *DegradationSupervisor) Monitor() *ResourceMonitor { return s.monitor }

// Breaker returns the breaker for a registered algorithm.
func (s *DegradationSupervisor) Breaker(name string) *CircuitBreaker { return s.breakers.Get(name) }

// Health returns the health snapshot for a registered algorithm.
func (s *DegradationSupervisor) Health(name string) (AlgorithmHealth, bool) { return s.health.Get(name) }

const meterName = "github.com/packgate/packgate/internal/resilience"

// supervisorMetrics holds the OpenTelemetry instruments for fallback
// outcomes.
type supervisorMetrics struct {
	outcomes  metric.Int64Counter
	emergency metric.Int64Counter
	duration  metric.Float64Histogram
}

func newSupervisorMetrics() (*supervisorMetrics, error) {
	meter := otel.Meter(meterName)

	outcomes, err := meter.Int64Counter(
		"packgate.compress.outcomes",
		metric.WithDescription("Per-algorithm compression outcomes"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	emergency, err := meter.Int64Counter(
		"packgate.compress.emergency",
		metric.WithDescription("Emergency fallback activations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"packgate.compress.duration",
		metric.WithDescription("Successful compression duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &supervisorMetrics{outcomes: outcomes, emergency: emergency, duration: duration}, nil
}

func (m *supervisorMetrics) recordOutcome(ctx context.Context, algorithm, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("algorithm", algorithm),
		attribute.String("outcome", outcome),
	)
	m.outcomes.Add(ctx, 1, attrs)
	if outcome == "success" {
		m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("algorithm", algorithm)))
	}
}

func (m *supervisorMetrics) recordEmergency(ctx context.Context, uncompressed bool) {
	m.emergency.Add(ctx, 1, metric.WithAttributes(attribute.Bool("uncompressed", uncompressed)))
}
