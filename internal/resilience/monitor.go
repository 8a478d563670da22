package resilience

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSnapshot is one sampling tick's view of host load.
type ResourceSnapshot struct {
	CPUPercent      float64   `json:"cpuPercent"`
	MemoryPercent   float64   `json:"memoryPercent"`
	AvailableMemory uint64    `json:"availableMemory"`
	Goroutines      int       `json:"goroutines"`
	DiskIOPercent   float64   `json:"diskIoPercent"`
	Timestamp       time.Time `json:"timestamp"`
}

// Thresholds are the comfort limits beyond which the system is
// considered under pressure.
type Thresholds struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskIOPercent float64
	Goroutines    int
}

// DefaultThresholds returns the standard pressure limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:    80,
		MemoryPercent: 85,
		DiskIOPercent: 90,
		Goroutines:    1000,
	}
}

// MonitorConfig holds configuration for the resource monitor.
type MonitorConfig struct {
	// Interval between samples. Default: 1 second
	Interval time.Duration

	// HistorySize bounds the retained snapshot history. Default: 60
	HistorySize int

	// Thresholds for pressure detection. Zero fields take defaults.
	Thresholds Thresholds

	// Logger for sampler events.
	Logger zerolog.Logger
}

// ResourceMonitor samples host load on a fixed interval from a dedicated
// background loop and exposes a scalar degradation level in [0,1].
type ResourceMonitor struct {
	interval   time.Duration
	historyCap int
	thresholds Thresholds
	logger     zerolog.Logger

	mu      sync.Mutex
	current ResourceSnapshot
	history []ResourceSnapshot

	// prevIOTime / prevIOAt carry the cumulative disk busy-time counter
	// between samples so throughput can be computed as a delta.
	prevIOTime uint64
	prevIOAt   time.Time

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewResourceMonitor creates a monitor; Start launches the sampling loop.
func NewResourceMonitor(cfg MonitorConfig) *ResourceMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 60
	}
	th := cfg.Thresholds
	def := DefaultThresholds()
	if th.CPUPercent <= 0 {
		th.CPUPercent = def.CPUPercent
	}
	if th.MemoryPercent <= 0 {
		th.MemoryPercent = def.MemoryPercent
	}
	if th.DiskIOPercent <= 0 {
		th.DiskIOPercent = def.DiskIOPercent
	}
	if th.Goroutines <= 0 {
		th.Goroutines = def.Goroutines
	}

	return &ResourceMonitor{
		interval:   cfg.Interval,
		historyCap: cfg.HistorySize,
		thresholds: th,
		logger:     cfg.Logger,
	}
}

// Start launches the background sampling loop. Idempotent.
func (m *ResourceMonitor) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(loopCtx)
}

// Stop cancels the sampling loop and waits for the current iteration to
// finish. Idempotent.
func (m *ResourceMonitor) Stop() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

func (m *ResourceMonitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safeSample()
		}
	}
}

// safeSample runs one sampling iteration, recovering from panics so a
// bad read restarts with the next tick instead of killing the loop.
func (m *ResourceMonitor) safeSample() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("resource sample panicked")
		}
	}()

	snap, err := m.Sample()
	if err != nil {
		m.logger.Warn().Err(err).Msg("resource sample failed")
		return
	}
	m.Record(snap)
}

// Sample captures a snapshot of current host load. It does not store
// the result; pair with Record.
func (m *ResourceMonitor) Sample() (ResourceSnapshot, error) {
	snap := ResourceSnapshot{
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	}

	// Percent since the previous call; the very first call reports 0.
	if cpuPct, err := cpu.Percent(0, false); err == nil && len(cpuPct) > 0 {
		snap.CPUPercent = cpuPct[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return snap, err
	}
	snap.MemoryPercent = vm.UsedPercent
	snap.AvailableMemory = vm.Available

	snap.DiskIOPercent = m.diskUtilization(snap.Timestamp)

	return snap, nil
}

// diskUtilization estimates disk busy percent from the cumulative IoTime
// counter delta over the elapsed interval. Returns 0 where the platform
// does not expose IoTime.
func (m *ResourceMonitor) diskUtilization(now time.Time) float64 {
	counters, err := disk.IOCounters()
	if err != nil || len(counters) == 0 {
		return 0
	}

	var ioTime uint64
	for _, c := range counters {
		ioTime += c.IoTime
	}

	m.mu.Lock()
	prevIOTime, prevAt := m.prevIOTime, m.prevIOAt
	m.prevIOTime, m.prevIOAt = ioTime, now
	m.mu.Unlock()

	if prevAt.IsZero() || ioTime < prevIOTime {
		return 0
	}

	elapsedMs := float64(now.Sub(prevAt).Milliseconds())
	if elapsedMs <= 0 {
		return 0
	}

	pct := float64(ioTime-prevIOTime) / elapsedMs * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Record stores a snapshot as current and appends it to the bounded
// history. The sampling loop calls this every tick; tests may call it
// directly with synthetic snapshots.
func (m *ResourceMonitor) Record(snap ResourceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = snap
	m.history = append(m.history, snap)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}
}

// Current returns the most recent snapshot.
func (m *ResourceMonitor) Current() ResourceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of the retained snapshot history, oldest first.
func (m *ResourceMonitor) History() []ResourceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ResourceSnapshot, len(m.history))
	copy(out, m.history)
	return out
}

// ShouldDegrade reports whether any threshold is exceeded by the current
// snapshot.
func (m *ResourceMonitor) ShouldDegrade() bool {
	return m.DegradationLevel() > 0
}

// DegradationLevel returns the worst relative threshold breach across
// all dimensions, clamped to [0,1]. Zero when nothing is in breach.
func (m *ResourceMonitor) DegradationLevel() float64 {
	snap := m.Current()

	level := breach(snap.CPUPercent, m.thresholds.CPUPercent)
	if v := breach(snap.MemoryPercent, m.thresholds.MemoryPercent); v > level {
		level = v
	}
	if v := breach(snap.DiskIOPercent, m.thresholds.DiskIOPercent); v > level {
		level = v
	}
	if v := breach(float64(snap.Goroutines), float64(m.thresholds.Goroutines)); v > level {
		level = v
	}

	if level > 1 {
		level = 1
	}
	return level
}

// breach returns max(0, (value-threshold)/threshold).
func breach(value, threshold float64) float64 {
	if threshold <= 0 || value <= threshold {
		return 0
	}
	return (value - threshold) / threshold
}
