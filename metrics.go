package redisq

import (
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Recorder is the only observability dependency the core has: a set of
// named handles created once at construction, rather than looked up by a
// stringified class name. Each method returns the handle for one of the
// metric slots named by the external interface: push latency, idle
// (blocking-pop) latency, execute-wait latency, restore-blocked latency, a
// cached queue-size gauge, and a serialization-error counter.
type Recorder interface {
	PushTimer() Timer
	IdleTimer() Timer
	ExecuteWaitTimer() Timer
	RestoreBlockedTimer() Timer
	ReadyListGauge() Gauge
	SerializationErrors() Counter
}

// Timer records the duration of an operation.
type Timer interface {
	Time(func())
	Update(time.Duration)
}

// Gauge reports a point-in-time value, optionally cached.
type Gauge interface {
	Update(int64)
	Value() int64
}

// Counter accumulates a monotonically increasing count.
type Counter interface {
	Inc(int64)
}

// GoMetricsRecorder backs Recorder with github.com/rcrowley/go-metrics,
// the Go analogue of the Dropwizard/Codahale Timer/CachedGauge/Meter the
// original queue used, named per the metric registry convention
// "redisq.<queueName>.<slot>".
type GoMetricsRecorder struct {
	registry gometrics.Registry
	push     gometrics.Timer
	idle     gometrics.Timer
	exec     gometrics.Timer
	restore  gometrics.Timer
	gauge    gometrics.GaugeFloat64
	serErr   gometrics.Counter
}

// NewGoMetricsRecorder registers the six named handles for queueName in
// registry (or a fresh registry if nil) and returns a Recorder backed by
// them.
func NewGoMetricsRecorder(queueName string, registry gometrics.Registry) *GoMetricsRecorder {
	if registry == nil {
		registry = gometrics.NewRegistry()
	}
	name := func(slot string) string { return "redisq." + queueName + "." + slot }
	return &GoMetricsRecorder{
		registry: registry,
		push:     gometrics.GetOrRegisterTimer(name("push"), registry),
		idle:     gometrics.GetOrRegisterTimer(name("idle"), registry),
		exec:     gometrics.GetOrRegisterTimer(name("execute_wait"), registry),
		restore:  gometrics.GetOrRegisterTimer(name("restore_blocked"), registry),
		gauge:    gometrics.GetOrRegisterGaugeFloat64(name("queue.size"), registry),
		serErr:   gometrics.GetOrRegisterCounter(name("serialization_errors"), registry),
	}
}

func (r *GoMetricsRecorder) PushTimer() Timer          { return timerAdapter{r.push} }
func (r *GoMetricsRecorder) IdleTimer() Timer          { return timerAdapter{r.idle} }
func (r *GoMetricsRecorder) ExecuteWaitTimer() Timer   { return timerAdapter{r.exec} }
func (r *GoMetricsRecorder) RestoreBlockedTimer() Timer { return timerAdapter{r.restore} }
func (r *GoMetricsRecorder) ReadyListGauge() Gauge     { return gaugeAdapter{r.gauge} }
func (r *GoMetricsRecorder) SerializationErrors() Counter { return counterAdapter{r.serErr} }

// Registry exposes the underlying go-metrics registry, e.g. for wiring a
// Prometheus exporter the way the rest of the example corpus does.
func (r *GoMetricsRecorder) Registry() gometrics.Registry { return r.registry }

type timerAdapter struct{ t gometrics.Timer }

func (a timerAdapter) Time(f func())            { a.t.Time(f) }
func (a timerAdapter) Update(d time.Duration)    { a.t.Update(d) }

type gaugeAdapter struct{ g gometrics.GaugeFloat64 }

func (a gaugeAdapter) Update(v int64) { a.g.Update(float64(v)) }
func (a gaugeAdapter) Value() int64   { return int64(a.g.Value()) }

type counterAdapter struct{ c gometrics.Counter }

func (a counterAdapter) Inc(v int64) { a.c.Inc(v) }

// NopRecorder satisfies Recorder for callers that don't want metrics.
type NopRecorder struct{}

func (NopRecorder) PushTimer() Timer            { return nopTimer{} }
func (NopRecorder) IdleTimer() Timer            { return nopTimer{} }
func (NopRecorder) ExecuteWaitTimer() Timer     { return nopTimer{} }
func (NopRecorder) RestoreBlockedTimer() Timer  { return nopTimer{} }
func (NopRecorder) ReadyListGauge() Gauge       { return nopGauge{} }
func (NopRecorder) SerializationErrors() Counter { return nopCounter{} }

type nopTimer struct{}

func (nopTimer) Time(f func())         { f() }
func (nopTimer) Update(time.Duration) {}

type nopGauge struct{}

func (nopGauge) Update(int64) {}
func (nopGauge) Value() int64 { return 0 }

type nopCounter struct{}

func (nopCounter) Inc(int64) {}

// CachedQueueSizeGauge wraps a Gauge so the value is refreshed at most
// once per interval, mirroring the original's 15-second CachedGauge over
// LLEN. A successful load is kept for one interval; loader runs from
// whichever caller calls Refresh first after expiry.
type CachedQueueSizeGauge struct {
	gauge    Gauge
	interval time.Duration
	loader   func() (int64, error)
	last     time.Time
}

// NewCachedQueueSizeGauge builds a gauge that calls loader to refresh its
// value at most once per interval.
func NewCachedQueueSizeGauge(gauge Gauge, interval time.Duration, loader func() (int64, error)) *CachedQueueSizeGauge {
	return &CachedQueueSizeGauge{gauge: gauge, interval: interval, loader: loader}
}

// Refresh reloads the gauge if the cache has expired.
func (c *CachedQueueSizeGauge) Refresh(now time.Time) {
	if !c.last.IsZero() && now.Sub(c.last) < c.interval {
		return
	}
	if v, err := c.loader(); err == nil {
		c.gauge.Update(v)
		c.last = now
	}
}
