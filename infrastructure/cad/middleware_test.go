package cad

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

var errTool = errors.New("tool crashed")

// recordingCollector captures metrics in memory.
type recordingCollector struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
	samples  map[string]int
	labels   []map[string]string
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		samples:  make(map[string]int),
	}
}

func (c *recordingCollector) RecordLatency(op string, _ time.Duration, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[op]++
}

func (c *recordingCollector) RecordCounter(metric string, v float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[metric+"/"+labels["status"]] += v
	c.labels = append(c.labels, labels)
}

func (c *recordingCollector) RecordGauge(metric string, v float64, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[metric] = v
}

func (c *recordingCollector) RecordHistogram(metric string, _ float64, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[metric]++
}

// countingCall returns a Call that fails while *fail is true.
func countingCall(calls *int, fail *bool) Call {
	return func(context.Context, Request) error {
		*calls++
		if *fail {
			return errTool
		}
		return nil
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Call) Call {
			return func(ctx context.Context, req Request) error {
				order = append(order, name+">")
				err := next(ctx, req)
				order = append(order, "<"+name)
				return err
			}
		}
	}

	call := Chain(tag("a"), nil, tag("b"))(func(context.Context, Request) error {
		order = append(order, "call")
		return nil
	})
	require.NoError(t, call(context.Background(), Request{Op: OpExport}))

	assert.Equal(t, []string{"a>", "b>", "call", "<b", "<a"}, order)
}

func TestWrapExporter(t *testing.T) {
	var seen Request
	spy := func(next Call) Call {
		return func(ctx context.Context, req Request) error {
			seen = req
			return next(ctx, req)
		}
	}
	inner := ports.ExporterFunc(func(_ context.Context, src, out string) (string, error) {
		if src == "bad.par" {
			return "partial.step", errTool
		}
		return out + "/S1.step", nil
	})

	e := WrapExporter(inner, spy)

	got, err := e.Export(context.Background(), "S1.par", "/out")
	require.NoError(t, err)
	assert.Equal(t, "/out/S1.step", got)
	assert.Equal(t, Request{Op: OpExport, Path: "S1.par"}, seen)

	got, err = e.Export(context.Background(), "bad.par", "/out")
	require.ErrorIs(t, err, errTool)
	assert.Empty(t, got, "a failed export must not leak a path")
}

func TestWrapKernel(t *testing.T) {
	want := domain.GeometricProperties{Volume: 1, SurfaceArea: 2}
	inner := ports.GeometryKernelFunc(func(_ context.Context, path string) (domain.GeometricProperties, error) {
		if path == "bad.step" {
			return want, errTool
		}
		return want, nil
	})
	var seen Request
	spy := func(next Call) Call {
		return func(ctx context.Context, req Request) error {
			seen = req
			return next(ctx, req)
		}
	}

	k := WrapKernel(inner, spy)

	got, err := k.ReadProperties(context.Background(), "S1.step")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, Request{Op: OpRead, Path: "S1.step"}, seen)

	got, err = k.ReadProperties(context.Background(), "bad.step")
	require.ErrorIs(t, err, errTool)
	assert.Zero(t, got)
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool
	capture := func(ctx context.Context, _ Request) error {
		deadline, hasDeadline = ctx.Deadline()
		return nil
	}

	require.NoError(t, TimeoutMiddleware(time.Minute)(capture)(context.Background(), Request{}))
	assert.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	require.NoError(t, TimeoutMiddleware(0)(capture)(context.Background(), Request{}))
	assert.False(t, hasDeadline, "zero timeout disables the deadline")

	slow := func(ctx context.Context, _ Request) error {
		<-ctx.Done()
		return ctx.Err()
	}
	err := TimeoutMiddleware(10*time.Millisecond)(slow)(context.Background(), Request{Op: OpExport})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ports.ErrTimeout)
	assert.Equal(t, "timeout", outcome(err))

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	err = TimeoutMiddleware(time.Minute)(slow)(parent, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ports.ErrTimeout, "a cancelled parent is not a timeout")
}

func TestRateLimitMiddleware(t *testing.T) {
	calls := 0
	fail := false
	call := RateLimitMiddleware(rate.Every(time.Hour), 1)(countingCall(&calls, &fail))

	require.NoError(t, call(context.Background(), Request{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := call(ctx, Request{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, 1, calls, "second call must wait for a token")
}

func TestPerMinute(t *testing.T) {
	assert.Equal(t, rate.Inf, PerMinute(0))
	assert.Equal(t, rate.Limit(0.5), PerMinute(30))
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	calls := 0
	fail := true
	call := countingCall(&calls, &fail)
	do := func() error { return cb.Call(func() error { return call(context.Background(), Request{}) }) }

	assert.ErrorIs(t, do(), errTool)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, do(), errTool)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, do(), ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open circuit must not call through")

	now = now.Add(time.Minute)
	assert.ErrorIs(t, do(), errTool, "trial call after cooldown reaches the tool")
	assert.Equal(t, StateOpen, cb.State(), "failed trial reopens the circuit")
	assert.Equal(t, 3, calls)

	now = now.Add(time.Minute)
	fail = false
	assert.NoError(t, do())
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, do())
	assert.Equal(t, 5, calls)
}

func TestCircuitBreaker_SingleTrialWhileHalfOpen(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }

	require.Error(t, cb.Call(func() error { return errTool }))
	now = now.Add(time.Second)

	var inner error
	err := cb.Call(func() error {
		assert.Equal(t, StateHalfOpen, cb.State())
		inner = cb.Call(func() error { return nil })
		return nil
	})

	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrCircuitOpen, "only one trial call may run while half open")
	assert.Equal(t, StateClosed, cb.State())
}

func TestNewCircuitBreaker_MinimumFailures(t *testing.T) {
	tests := []struct {
		name        string
		maxFailures int
	}{
		{name: "zero", maxFailures: 0},
		{name: "negative", maxFailures: -3},
		{name: "one", maxFailures: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(tt.maxFailures, time.Minute)

			assert.ErrorIs(t, cb.Call(func() error { return errTool }), errTool)
			assert.Equal(t, StateOpen, cb.State())
			assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)
		})
	}
}

func TestCircuitBreaker_StateAfterCooldown(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }
	require.Error(t, cb.Call(func() error { return errTool }))

	now = now.Add(time.Hour)

	assert.Equal(t, StateOpen, cb.State(), "state changes only when a call is admitted")
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerMiddleware_SharedAcrossPorts(t *testing.T) {
	mw := CircuitBreakerMiddleware(1, time.Minute, nil)
	kernelCalls := 0
	e := WrapExporter(ports.ExporterFunc(func(context.Context, string, string) (string, error) {
		return "", errTool
	}), mw)
	k := WrapKernel(ports.GeometryKernelFunc(func(context.Context, string) (domain.GeometricProperties, error) {
		kernelCalls++
		return domain.GeometricProperties{}, nil
	}), mw)

	_, err := e.Export(context.Background(), "S1.par", "/out")
	require.ErrorIs(t, err, errTool)

	_, err = k.ReadProperties(context.Background(), "S1.step")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, ports.ErrServiceUnavailable)
	assert.Zero(t, kernelCalls, "an export failure must trip the kernel chain too")
}

func TestCircuitBreakerMiddleware_Metrics(t *testing.T) {
	collector := newRecordingCollector()
	calls := 0
	fail := true
	call := CircuitBreakerMiddleware(1, time.Hour, collector)(countingCall(&calls, &fail))

	_ = call(context.Background(), Request{Op: OpExport})
	err := call(context.Background(), Request{Op: OpExport})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1.0, collector.counters["cad_circuit_rejections_total/"])
	assert.Equal(t, float64(StateOpen), collector.gauges["cad_circuit_state"])
}

func TestCircuitBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", CircuitBreakerState(9).String())
}

func TestMetricsMiddleware(t *testing.T) {
	collector := newRecordingCollector()
	results := []error{nil, errTool, ErrCircuitOpen, context.DeadlineExceeded}
	i := 0
	call := MetricsMiddleware(collector)(func(context.Context, Request) error {
		err := results[i]
		i++
		return err
	})

	for range results {
		_ = call(context.Background(), Request{Op: OpRead})
	}

	assert.Equal(t, 1.0, collector.counters["cad_calls_total/success"])
	assert.Equal(t, 1.0, collector.counters["cad_calls_total/error"])
	assert.Equal(t, 1.0, collector.counters["cad_calls_total/circuit_open"])
	assert.Equal(t, 1.0, collector.counters["cad_calls_total/timeout"])
	assert.Equal(t, 4, collector.samples["cad_call_duration_seconds"])
	for _, l := range collector.labels {
		assert.Equal(t, OpRead, l["op"])
	}

	passthrough := MetricsMiddleware(nil)(func(context.Context, Request) error { return errTool })
	assert.ErrorIs(t, passthrough(context.Background(), Request{}), errTool)
}

func TestTracingMiddleware(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")

	ok := TracingMiddleware(tracer)(func(ctx context.Context, _ Request) error { return nil })
	assert.NoError(t, ok(context.Background(), Request{Op: OpExport, Path: "S1.par"}))

	bad := TracingMiddleware(nil)(func(context.Context, Request) error { return errTool })
	assert.ErrorIs(t, bad(context.Background(), Request{Op: OpRead}), errTool)
}
