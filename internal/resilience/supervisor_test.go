package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packgate/packgate/internal/codec"
	"github.com/packgate/packgate/internal/resilience"
)

// stubCodec is a scriptable Compressor for supervisor tests. Its output
// prefixes the input with the codec name so results are attributable.
type stubCodec struct {
	name  string
	fail  atomic.Bool
	delay time.Duration
	calls atomic.Int32
}

func newStubCodec(name string, fail bool) *stubCodec {
	c := &stubCodec{name: name}
	c.fail.Store(fail)
	return c
}

func (c *stubCodec) Name() string { return c.name }

func (c *stubCodec) Compress(data []byte, _ codec.Params) ([]byte, codec.Metadata, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.fail.Load() {
		return nil, codec.Metadata{}, errors.New(c.name + " deliberately failing")
	}
	out := append([]byte(c.name+":"), data...)
	return out, codec.Metadata{
		Algorithm:      c.name,
		OriginalSize:   len(data),
		CompressedSize: len(out),
		Duration:       c.delay,
	}, nil
}

func (c *stubCodec) Decompress(data []byte) ([]byte, error) {
	prefix := []byte(c.name + ":")
	if len(data) < len(prefix) {
		return nil, codec.ErrCorruptData
	}
	return data[len(prefix):], nil
}

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func newTestSupervisor(t *testing.T, breaker resilience.BreakerConfig) *resilience.DegradationSupervisor {
	t.Helper()

	s, err := resilience.NewSupervisor(resilience.SupervisorConfig{
		Logger:  zerolog.Nop(),
		Retry:   fastRetry(),
		Breaker: breaker,
	})
	require.NoError(t, err)
	return s
}

func TestSupervisor_EmptyInputRejected(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())

	_, _, err := s.CompressWithFallback(context.Background(), nil, codec.Params{})
	assert.ErrorIs(t, err, codec.ErrEmptyInput)
}

func TestSupervisor_FirstSuccessWins(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())

	a := newStubCodec("a", false)
	b := newStubCodec("b", false)
	s.RegisterAlgorithm("a", a)
	s.RegisterAlgorithm("b", b)

	res, records, err := s.CompressWithFallback(context.Background(), []byte("payload"), codec.Params{})
	require.NoError(t, err)

	assert.Equal(t, []byte("a:payload"), res.Data)
	assert.Empty(t, records)
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Zero(t, b.calls.Load(), "no further candidates after a success")
}

func TestSupervisor_FallbackChainScenario(t *testing.T) {
	// A and B always fail, C always succeeds: result is C's output,
	// exactly two error records with full attempt counts, and one
	// recorded failure event per exhausted algorithm.
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())

	a := newStubCodec("a", true)
	b := newStubCodec("b", true)
	c := newStubCodec("c", false)
	c.delay = 5 * time.Millisecond
	s.RegisterAlgorithm("a", a)
	s.RegisterAlgorithm("b", b)
	s.RegisterAlgorithm("c", c)

	res, records, err := s.CompressWithFallback(context.Background(), []byte("payload"), codec.Params{})
	require.NoError(t, err)

	assert.Equal(t, []byte("c:payload"), res.Data)
	assert.False(t, res.Metadata.EmergencyFallback)

	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Algorithm)
	assert.Equal(t, 3, records[0].Attempts)
	assert.Equal(t, "b", records[1].Algorithm)
	assert.Equal(t, 3, records[1].Attempts)

	assert.Equal(t, int32(3), a.calls.Load())
	assert.Equal(t, int32(3), b.calls.Load())

	// One failure event per exhausted algorithm, not per retry.
	assert.Equal(t, 1, s.Breaker("a").FailureCount())
	assert.Equal(t, 1, s.Breaker("b").FailureCount())
	ha, _ := s.Health("a")
	assert.Equal(t, int64(1), ha.FailureCount)

	hc, _ := s.Health("c")
	assert.Equal(t, int64(1), hc.SuccessCount)
	assert.Equal(t, 0, s.Breaker("c").FailureCount())
}

func TestSupervisor_OpenBreakerSkipsAlgorithm(t *testing.T) {
	s := newTestSupervisor(t, resilience.BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		HalfOpenRequests: 3,
	})

	a := newStubCodec("a", true)
	s.RegisterAlgorithm("a", a)

	ctx := context.Background()

	// Two exhausting calls open the breaker (one failure event each).
	_, records, err := s.CompressWithFallback(ctx, []byte("x"), codec.Params{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, _, err = s.CompressWithFallback(ctx, []byte("x"), codec.Params{})
	require.NoError(t, err)
	require.Equal(t, resilience.StateOpen, s.Breaker("a").State())

	callsBefore := a.calls.Load()

	// Third call must skip A entirely and land on the emergency path.
	res, records, err := s.CompressWithFallback(ctx, []byte("x"), codec.Params{})
	require.NoError(t, err)

	assert.Equal(t, callsBefore, a.calls.Load(), "no attempts against an open breaker")
	assert.Empty(t, records, "skipped algorithms produce no error record")
	assert.True(t, res.Metadata.EmergencyFallback)
}

func TestSupervisor_EmergencyFallbackRoundTrip(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())
	s.RegisterAlgorithm("a", newStubCodec("a", true))

	payload := []byte("some payload worth keeping")
	res, records, err := s.CompressWithFallback(context.Background(), payload, codec.Params{})
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.True(t, res.Metadata.EmergencyFallback)
	assert.False(t, res.Metadata.Uncompressed)
	assert.Equal(t, "emergency-gzip", res.Metadata.Algorithm)

	back, err := s.DecompressWithFallback(context.Background(), res.Data, res.Metadata.Algorithm)
	require.NoError(t, err)
	assert.Equal(t, payload, back)
}

func TestSupervisor_EmergencyWithNoAlgorithms(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())

	res, records, err := s.CompressWithFallback(context.Background(), []byte("data"), codec.Params{})
	require.NoError(t, err)

	assert.Empty(t, records)
	assert.True(t, res.Metadata.EmergencyFallback)
	assert.NotEmpty(t, res.Data)
}

func TestSupervisor_CallerCancellationPropagates(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())

	slow := newStubCodec("slow", true)
	slow.delay = 50 * time.Millisecond
	s.RegisterAlgorithm("slow", slow)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, _, err := s.CompressWithFallback(ctx, []byte("data"), codec.Params{})

	assert.Nil(t, res, "cancellation is not swallowed by the emergency path")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSupervisor_ChainShrinksUnderPressure(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())

	x := newStubCodec("x", true)
	y := newStubCodec("y", true)
	z := newStubCodec("z", true)
	s.RegisterAlgorithm("x", x)
	s.RegisterAlgorithm("y", y)
	s.RegisterAlgorithm("z", z)

	s.Monitor().Record(resilience.ResourceSnapshot{CPUPercent: 95, Timestamp: time.Now()})
	require.True(t, s.Monitor().ShouldDegrade())

	assert.Equal(t, []string{"y", "z"}, s.BuildWorkingChain())

	_, records, err := s.CompressWithFallback(context.Background(), []byte("data"), codec.Params{})
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Zero(t, x.calls.Load(), "head of the chain dropped under pressure")
}

func TestSupervisor_RegisterIdempotent(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())

	first := newStubCodec("a", false)
	s.RegisterAlgorithm("a", first)
	s.RegisterAlgorithm("a", newStubCodec("a", true))

	res, _, err := s.CompressWithFallback(context.Background(), []byte("data"), codec.Params{})
	require.NoError(t, err)
	assert.Equal(t, []byte("a:data"), res.Data, "re-registration does not replace the codec")
}

func TestSupervisor_DecompressRoundTrip(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())
	s.RegisterAlgorithm("gzip", codec.NewGzip())

	payload := []byte("hello hello hello hello hello")
	res, _, err := s.CompressWithFallback(context.Background(), payload, codec.Params{})
	require.NoError(t, err)

	back, err := s.DecompressWithFallback(context.Background(), res.Data, res.Metadata.Algorithm)
	require.NoError(t, err)
	assert.Equal(t, payload, back)
}

func TestSupervisor_DecompressPassthrough(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())

	data := []byte("never compressed")
	back, err := s.DecompressWithFallback(context.Background(), data, "none")
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestSupervisor_DecompressUnknownAlgorithm(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())

	_, err := s.DecompressWithFallback(context.Background(), []byte("data"), "ghost")
	assert.ErrorIs(t, err, resilience.ErrNotRegistered)
}

func TestSupervisor_HealForcesHalfOpenBreakerClosed(t *testing.T) {
	s := newTestSupervisor(t, resilience.BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
		HalfOpenRequests: 5,
	})

	a := newStubCodec("a", true)
	s.RegisterAlgorithm("a", a)
	ctx := context.Background()

	_, _, err := s.CompressWithFallback(ctx, []byte("x"), codec.Params{})
	require.NoError(t, err)
	require.Equal(t, resilience.StateOpen, s.Breaker("a").State())

	// Recover the codec and let the breaker probe half-open.
	a.fail.Store(false)
	time.Sleep(30 * time.Millisecond)

	for i := 0; i < 3; i++ {
		_, _, err = s.CompressWithFallback(ctx, []byte("x"), codec.Params{})
		require.NoError(t, err)
	}
	require.Equal(t, resilience.StateHalfOpen, s.Breaker("a").State())

	// Healing forgives the old failure, lifting the success rate above
	// the 0.8 bar, so the half-open breaker is forced closed.
	s.Heal("a")
	assert.Equal(t, resilience.StateClosed, s.Breaker("a").State())
}

func TestSupervisor_AutoRecoverHealsQuietFailures(t *testing.T) {
	s, err := resilience.NewSupervisor(resilience.SupervisorConfig{
		Logger: zerolog.Nop(),
		Retry:  fastRetry(),
		Breaker: resilience.BreakerConfig{
			FailureThreshold: 1,
			RecoveryTimeout:  20 * time.Millisecond,
			HalfOpenRequests: 1,
		},
		HealCooldown: 30 * time.Millisecond,
	})
	require.NoError(t, err)

	a := newStubCodec("a", true)
	s.RegisterAlgorithm("a", a)

	_, _, err = s.CompressWithFallback(context.Background(), []byte("x"), codec.Params{})
	require.NoError(t, err)

	h, _ := s.Health("a")
	require.Equal(t, resilience.StatusCritical, h.Status)
	require.Equal(t, resilience.StateOpen, s.Breaker("a").State())

	time.Sleep(40 * time.Millisecond)
	s.AutoRecover()

	h, _ = s.Health("a")
	assert.Equal(t, resilience.StatusHealthy, h.Status, "quiet failures forgiven")
	assert.Equal(t, resilience.StateHalfOpen, s.Breaker("a").State(), "breaker nudged to half-open")
}

func TestSupervisor_SystemHealthReport(t *testing.T) {
	s := newTestSupervisor(t, resilience.DefaultBreakerConfig())

	good := newStubCodec("good", false)
	bad := newStubCodec("bad", true)
	s.RegisterAlgorithm("bad", bad)
	s.RegisterAlgorithm("good", good)

	_, _, err := s.CompressWithFallback(context.Background(), []byte("x"), codec.Params{})
	require.NoError(t, err)

	report := s.SystemHealth()

	require.Len(t, report.Algorithms, 2)
	assert.Equal(t, "bad", report.Algorithms[0].Name)
	assert.Equal(t, "critical", report.Algorithms[0].Status)
	assert.Equal(t, "good", report.Algorithms[1].Name)
	assert.Equal(t, "healthy", report.Algorithms[1].Status)
	assert.Equal(t, "critical", report.Status, "overall is worst-of")
	assert.False(t, report.Timestamp.IsZero())
}

func TestSupervisor_StartStopIdempotent(t *testing.T) {
	s, err := resilience.NewSupervisor(resilience.SupervisorConfig{
		Logger:           zerolog.Nop(),
		Retry:            fastRetry(),
		RecoveryInterval: 10 * time.Millisecond,
		Monitor: resilience.MonitorConfig{
			Interval: 10 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)

	time.Sleep(25 * time.Millisecond)

	s.Stop()
	s.Stop()
}
