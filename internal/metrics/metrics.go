// Package metrics exposes Prometheus instrumentation of duplications and
// of the HTTP surface.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/conduit-lang/cloner/internal/events"
	"github.com/conduit-lang/cloner/internal/orm/record"
)

// Collector counts cloned records and times each clone from its cloning
// event to its cloned event. It is fed by a Dispatcher.
type Collector struct {
	cloned   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	mu      sync.Mutex
	pending map[*record.Record]time.Time
	now     func() time.Time
}

// NewCollector registers the metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		cloned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloner_records_cloned_total",
				Help: "Number of records cloned, children included",
			},
			[]string{"resource"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloner_clone_duration_seconds",
				Help:    "Time from a record's cloning event to its cloned event",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloner_duplicate_failures_total",
				Help: "Number of top-level duplications that returned an error",
			},
			[]string{"resource", "reason"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloner_http_requests_total",
				Help: "Number of HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloner_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		pending: make(map[*record.Record]time.Time),
		now:     time.Now,
	}
}

// Attach subscribes the collector to every cloning and cloned event of d
func (c *Collector) Attach(d *events.Dispatcher) {
	d.Listen(events.PatternCloning, c.onCloning)
	d.Listen(events.PatternCloned, c.onCloned)
}

type trackerKey struct{}

// tracker remembers the clones started under one call
type tracker struct {
	mu     sync.Mutex
	clones []*record.Record
}

// Track returns a context under which started clones are remembered, and a
// function discarding those still pending. Call it once the duplication
// returns so aborted clones do not linger.
func (c *Collector) Track(ctx context.Context) (context.Context, func()) {
	t := &tracker{}
	return context.WithValue(ctx, trackerKey{}, t), func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		c.mu.Lock()
		defer c.mu.Unlock()
		for _, clone := range t.clones {
			delete(c.pending, clone)
		}
		t.clones = nil
	}
}

func (c *Collector) onCloning(ctx context.Context, ev events.Event) error {
	if t, ok := ctx.Value(trackerKey{}).(*tracker); ok {
		t.mu.Lock()
		t.clones = append(t.clones, ev.Clone)
		t.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[ev.Clone] = c.now()
	return nil
}

func (c *Collector) onCloned(_ context.Context, ev events.Event) error {
	c.cloned.WithLabelValues(ev.Resource).Inc()

	c.mu.Lock()
	start, ok := c.pending[ev.Clone]
	delete(c.pending, ev.Clone)
	c.mu.Unlock()

	if ok {
		c.duration.WithLabelValues(ev.Resource).Observe(c.now().Sub(start).Seconds())
	}
	return nil
}

// ObserveFailure counts a failed duplication
func (c *Collector) ObserveFailure(resource, reason string) {
	c.failures.WithLabelValues(resource, reason).Inc()
}

// ObserveRequest records one served HTTP request
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	c.requests.WithLabelValues(method, route, statusLabel(status)).Inc()
	c.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Pending returns the number of clones started but not yet finished
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
