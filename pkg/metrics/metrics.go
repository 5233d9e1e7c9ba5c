// Package metrics exports connection pool activity as Prometheus metrics.
//
// Event counters are package-level vectors labelled by pool and fed by pool
// event listeners. Point-in-time values (idle, checked out, overflow,
// generation and the cumulative Stats counters) are read from Pool.Stats at
// scrape time through a per-pool Collector.
//
// # Basic Usage
//
//	p, _ := pool.New(cfg, creator)
//	collector := metrics.NewCollector(p)
//	if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
//	    return err
//	}
//
//	timer := metrics.NewTimer("acquire")
//	f, err := p.Acquire(ctx)
//	metrics.ObserveAcquire(p.Name(), timer.Stop(), err)
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

var (
	// PoolEvents counts dispatched pool events.
	// Labels: pool, event
	PoolEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbpool_events_total",
			Help: "Total number of pool events by type",
		},
		[]string{"pool", "event"},
	)

	// AcquireLatency tracks how long Acquire took, including waiting for capacity.
	// Labels: pool, result (ok, exhausted, disconnected, error)
	AcquireLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "dbpool_acquire_duration_seconds",
			Help: "Acquire latency in seconds",
			Buckets: []float64{
				0.0001, // 100µs - idle connection reuse
				0.001,  // 1ms
				0.01,   // 10ms - new connection on a LAN
				0.1,    // 100ms
				1,      // 1s - waiting for capacity
				10,
				30, // default checkout timeout
			},
		},
		[]string{"pool", "result"},
	)

	// ConnectFailures counts creator errors surfaced by Acquire.
	ConnectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbpool_connect_failures_total",
			Help: "Total number of failed connection attempts",
		},
		[]string{"pool"},
	)
)

// ObserveAcquire records one Acquire outcome.
func ObserveAcquire(poolName string, d time.Duration, err error) {
	AcquireLatency.WithLabelValues(poolName, acquireResult(err)).Observe(d.Seconds())
	if errors.IsType(err, errors.ErrorTypeConnection) {
		ConnectFailures.WithLabelValues(poolName).Inc()
	}
}

func acquireResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.IsExhausted(err):
		return "exhausted"
	case errors.IsDisconnection(err):
		return "disconnected"
	default:
		return "error"
	}
}

// Collector exposes one pool's Stats as Prometheus collectors and counts
// its events.
type Collector struct {
	pool       *pool.Pool
	collectors []prometheus.Collector
	startTime  time.Time
}

// NewCollector creates a collector for p and starts counting its events.
// Call Register to expose the Stats-backed gauges.
func NewCollector(p *pool.Pool) *Collector {
	c := &Collector{pool: p, startTime: time.Now()}
	c.listen()

	labels := prometheus.Labels{"pool": p.Name()}
	gauge := func(name, help string, fn func(pool.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return fn(p.Stats()) })
	}
	counter := func(name, help string, fn func(pool.Stats) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return fn(p.Stats()) })
	}

	c.collectors = []prometheus.Collector{
		gauge("dbpool_idle_connections", "Connections waiting in the pool",
			func(s pool.Stats) float64 { return float64(s.Idle) }),
		gauge("dbpool_checked_out_connections", "Connections held by callers",
			func(s pool.Stats) float64 { return float64(s.CheckedOut) }),
		gauge("dbpool_overflow_connections", "Open connections beyond the pool size",
			func(s pool.Stats) float64 { return float64(s.Overflow) }),
		gauge("dbpool_generation", "Current pool generation",
			func(s pool.Stats) float64 { return float64(s.Generation) }),
		counter("dbpool_connections_created_total", "Physical connections opened",
			func(s pool.Stats) float64 { return float64(s.Created) }),
		counter("dbpool_connections_recycled_total", "Connections closed for staleness or age",
			func(s pool.Stats) float64 { return float64(s.Recycled) }),
		counter("dbpool_connections_invalidated_total", "Connections invalidated",
			func(s pool.Stats) float64 { return float64(s.Invalidated) }),
		counter("dbpool_exhausted_total", "Acquire calls that timed out waiting for capacity",
			func(s pool.Stats) float64 { return float64(s.Exhausted) }),
		counter("dbpool_wait_total", "Acquire calls that had to wait for capacity",
			func(s pool.Stats) float64 { return float64(s.WaitCount) }),
		counter("dbpool_wait_seconds_total", "Time spent waiting for capacity",
			func(s pool.Stats) float64 { return s.WaitDuration.Seconds() }),
	}
	return c
}

func (c *Collector) listen() {
	name := c.pool.Name()
	ev := c.pool.Events()
	inc := func(event string) {
		PoolEvents.WithLabelValues(name, event).Inc()
	}

	for _, event := range []string{
		pool.EventConnect, pool.EventFirstConnect, pool.EventCheckin,
		pool.EventReset, pool.EventClose, pool.EventDetach,
	} {
		event := event
		_ = ev.On(event, func(pool.Conn, *pool.Record) error {
			inc(event)
			return nil
		})
	}
	ev.OnCheckout(func(pool.Conn, *pool.Record, *pool.Fairy) error {
		inc(pool.EventCheckout)
		return nil
	})
	ev.OnInvalidate(func(pool.Conn, *pool.Record, error) error {
		inc(pool.EventInvalidate)
		return nil
	})
	ev.OnSoftInvalidate(func(pool.Conn, *pool.Record, error) error {
		inc(pool.EventSoftInvalidate)
		return nil
	})
	ev.OnCloseDetached(func(pool.Conn) error {
		inc(pool.EventCloseDetached)
		return nil
	})
}

// Register registers the Stats-backed collectors with reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range c.collectors {
		if err := reg.Register(col); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to register pool metrics").
				WithDetail("pool", c.pool.Name())
		}
	}
	return nil
}

// Unregister removes the Stats-backed collectors from reg.
func (c *Collector) Unregister(reg prometheus.Registerer) {
	for _, col := range c.collectors {
		reg.Unregister(col)
	}
}

// StartTime returns when the collector was created
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// Timer measures one operation.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's label.
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed duration since creation. It may be called
// more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// LatencyTracker keeps the most recent latencies for percentile reporting.
type LatencyTracker struct {
	mu      sync.Mutex
	values  []time.Duration
	maxSize int
}

// NewLatencyTracker creates a tracker holding at most maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	return &LatencyTracker{
		values:  make([]time.Duration, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record records a latency value
func (l *LatencyTracker) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.values) >= l.maxSize {
		l.values = l.values[1:]
	}
	l.values = append(l.values, d)
}

// Count returns the number of samples held.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.values)
}

// GetPercentile returns the p-th percentile (0-100) of the held samples.
func (l *LatencyTracker) GetPercentile(p float64) time.Duration {
	l.mu.Lock()
	sorted := append([]time.Duration(nil), l.values...)
	l.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := int(float64(len(sorted)) * p / 100)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
