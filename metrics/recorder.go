// Package metrics records per-operation latency and outcome samples for the
// cache layer and derives hit-rate, percentile-latency, and error-rate views
// from them.
//
// The recorder keeps a bounded ring of samples (oldest dropped past the
// configured cap) and a bounded retention window enforced by a periodic trim,
// so memory stays flat no matter the load. The same samples feed a Prometheus
// registry exported through Handler.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

// Read-outcome operation names. Other operations (set, delete, batch_get,
// warm, load) are free-form; only these three participate in hit-rate math.
const (
	OpHit   = "hit"
	OpStale = "stale"
	OpMiss  = "miss"
)

// Sample is one recorded cache operation.
type Sample struct {
	Operation string
	Latency   time.Duration
	At        time.Time
	Success   bool
}

// LatencyStats summarizes operation latency over a window.
type LatencyStats struct {
	Average time.Duration
	P95     time.Duration
	P99     time.Duration
	Count   int
}

// Recorder records cache operation samples and derives observability views.
// All methods are safe for concurrent use.
type Recorder struct {
	cfg Config

	mu           sync.RWMutex
	samples      []Sample // ring storage
	head         int      // index of the oldest sample once the ring is full
	start        time.Time
	successTotal uint64 // total successful ops since start, survives trims

	breakerStateFn func() float64
	activeLocksFn  func() float64

	registry *prometheus.Registry
	opsTotal *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	cron     *cron.Cron
}

// NewRecorder creates a Recorder and registers its Prometheus collectors.
func NewRecorder(cfg Config) *Recorder {
	r := &Recorder{
		cfg:      cfg,
		samples:  make([]Sample, 0, cfg.GetMaxSamples()),
		start:    time.Now(),
		registry: prometheus.NewRegistry(),
	}

	r.opsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_operations_total",
		Help: "Total cache operations by operation and status.",
	}, []string{"operation", "status"})

	r.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cache_operation_duration_seconds",
		Help:    "Cache operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	r.registry.MustRegister(r.opsTotal, r.latency)

	for _, window := range []time.Duration{5 * time.Minute, 15 * time.Minute, time.Hour} {
		w := window
		r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "cache_hit_ratio",
			Help:        "Rolling cache hit ratio.",
			ConstLabels: prometheus.Labels{"window": w.String()},
		}, func() float64 {
			return r.HitRate(w)
		}))
	}

	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cache_circuit_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
	}, func() float64 {
		r.mu.RLock()
		fn := r.breakerStateFn
		r.mu.RUnlock()
		if fn == nil {
			return 0
		}
		return fn()
	}))

	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "cache_active_locks",
		Help: "Distributed locks currently tracked by this process.",
	}, func() float64 {
		r.mu.RLock()
		fn := r.activeLocksFn
		r.mu.RUnlock()
		if fn == nil {
			return 0
		}
		return fn()
	}))

	return r
}

// SetBreakerStateFunc wires the circuit-breaker state gauge.
func (r *Recorder) SetBreakerStateFunc(fn func() float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerStateFn = fn
}

// SetActiveLocksFunc wires the active-lock gauge.
func (r *Recorder) SetActiveLocksFunc(fn func() float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeLocksFn = fn
}

// Record appends a sample for one cache operation.
func (r *Recorder) Record(operation string, latency time.Duration, success bool) {
	r.recordAt(operation, latency, success, time.Now())
}

func (r *Recorder) recordAt(operation string, latency time.Duration, success bool, at time.Time) {
	status := "success"
	if !success {
		status = "error"
	}
	r.opsTotal.WithLabelValues(operation, status).Inc()
	r.latency.WithLabelValues(operation).Observe(latency.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()

	s := Sample{Operation: operation, Latency: latency, At: at, Success: success}
	if limit := r.cfg.GetMaxSamples(); len(r.samples) < limit {
		r.samples = append(r.samples, s)
	} else {
		// Ring is full: overwrite the oldest sample.
		r.samples[r.head] = s
		r.head = (r.head + 1) % limit
	}
	if success {
		r.successTotal++
	}
}

// snapshot returns retained samples in chronological order.
func (r *Recorder) snapshot() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sample, 0, len(r.samples))
	out = append(out, r.samples[r.head:]...)
	out = append(out, r.samples[:r.head]...)
	return out
}

// HitRate returns the ratio of cache hits (fresh or stale) to all read
// outcomes within the window. Returns 0 when no reads were recorded.
func (r *Recorder) HitRate(window time.Duration) float64 {
	cutoff := time.Now().Add(-window)
	var hits, reads int
	for _, s := range r.snapshot() {
		if s.At.Before(cutoff) {
			continue
		}
		switch s.Operation {
		case OpHit, OpStale:
			hits++
			reads++
		case OpMiss:
			reads++
		}
	}
	if reads == 0 {
		return 0
	}
	return float64(hits) / float64(reads)
}

// Latency returns average/P95/P99 latency over the given window across all
// operations.
func (r *Recorder) Latency(window time.Duration) LatencyStats {
	cutoff := time.Now().Add(-window)
	var in []time.Duration
	var total time.Duration
	for _, s := range r.snapshot() {
		if s.At.Before(cutoff) {
			continue
		}
		in = append(in, s.Latency)
		total += s.Latency
	}
	if len(in) == 0 {
		return LatencyStats{}
	}
	sort.Slice(in, func(i, j int) bool { return in[i] < in[j] })
	return LatencyStats{
		Average: total / time.Duration(len(in)),
		P95:     in[percentileIndex(len(in), 95)],
		P99:     in[percentileIndex(len(in), 99)],
		Count:   len(in),
	}
}

// percentileIndex maps a percentile to an index into a sorted slice.
func percentileIndex(n, pct int) int {
	idx := n*pct/100 - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

// Throughput returns successful operations per minute since the recorder
// started.
func (r *Recorder) Throughput() float64 {
	r.mu.RLock()
	success := r.successTotal
	elapsed := time.Since(r.start)
	r.mu.RUnlock()

	minutes := elapsed.Minutes()
	if minutes <= 0 {
		minutes = 1.0 / 60 // ramp-up: treat anything under a second as one second
	}
	return float64(success) / minutes
}

// ErrorRate returns the fraction of failed samples for one operation across
// the retained window. Returns 0 when the operation was never recorded.
func (r *Recorder) ErrorRate(operation string) float64 {
	var failures, total int
	for _, s := range r.snapshot() {
		if s.Operation != operation {
			continue
		}
		total++
		if !s.Success {
			failures++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}

// Slowest returns the n slowest retained samples, slowest first.
func (r *Recorder) Slowest(n int) []Sample {
	all := r.snapshot()
	sort.Slice(all, func(i, j int) bool { return all[i].Latency > all[j].Latency })
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// SampleCount returns the number of currently retained samples.
func (r *Recorder) SampleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}

// Handler returns the Prometheus exposition handler for this recorder's
// registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Start launches the periodic maintenance tasks: a five-minute summary log
// and an hourly trim discarding samples older than the retention window.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(r.cfg.GetSummarySchedule(), r.logSummary); err != nil {
		return err
	}
	if _, err := c.AddFunc(r.cfg.GetTrimSchedule(), r.Trim); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the maintenance tasks. Safe to call multiple times.
func (r *Recorder) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// Trim discards samples older than the retention window. The filter and the
// swap happen under one write lock so a concurrent Record is never lost.
func (r *Recorder) Trim() {
	cutoff := time.Now().Add(-r.cfg.GetRetention())

	r.mu.Lock()
	n := len(r.samples)
	kept := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		s := r.samples[(r.head+i)%n]
		if !s.At.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	dropped := n - len(kept)
	r.samples = kept
	r.head = 0
	r.mu.Unlock()

	if dropped > 0 {
		logger().Debug().
			Int("dropped", dropped).
			Int("retained", len(kept)).
			Msg("metrics trim")
	}
}

// logSummary emits the periodic health summary.
func (r *Recorder) logSummary() {
	stats := r.Latency(5 * time.Minute)
	logger().Info().
		Float64("hit_rate_5m", r.HitRate(5*time.Minute)).
		Float64("hit_rate_1h", r.HitRate(time.Hour)).
		Dur("latency_avg", stats.Average).
		Dur("latency_p95", stats.P95).
		Dur("latency_p99", stats.P99).
		Float64("throughput_per_min", r.Throughput()).
		Int("samples", r.SampleCount()).
		Msg("cache metrics summary")
}
