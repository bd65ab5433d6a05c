// Package events delivers the engine's lifecycle events to listeners.
//
// Listeners subscribe by exact event name ("cloned: Article") or by a
// pattern ending in "*" ("cloned: *", "*"). Synchronous listeners run in
// registration order on the publishing goroutine and the first error aborts
// the duplication. Asynchronous listeners receive a snapshot of the records
// on a worker pool and cannot affect the caller.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/cloner/internal/cloner"
	"github.com/conduit-lang/cloner/internal/orm/record"
)

// Stage is the phase of a duplication an event marks
type Stage string

const (
	StageCloning Stage = "cloning"
	StageCloned  Stage = "cloned"
)

// Patterns matching every event of a stage
const (
	PatternCloning = cloner.CloningEventPrefix + "*"
	PatternCloned  = cloner.ClonedEventPrefix + "*"
	PatternAll     = "*"
)

// Event is one published lifecycle event
type Event struct {
	Name     string
	Stage    Stage
	Resource string
	Clone    *record.Record
	Source   *record.Record
	At       time.Time
}

// ParseName splits an event name such as "cloned: Article" into its stage
// and resource
func ParseName(name string) (Stage, string) {
	switch {
	case strings.HasPrefix(name, cloner.CloningEventPrefix):
		return StageCloning, strings.TrimPrefix(name, cloner.CloningEventPrefix)
	case strings.HasPrefix(name, cloner.ClonedEventPrefix):
		return StageCloned, strings.TrimPrefix(name, cloner.ClonedEventPrefix)
	default:
		return "", name
	}
}

// Listener handles an event
type Listener func(ctx context.Context, ev Event) error

type subscription struct {
	pattern  string
	listener Listener
	async    bool
}

func (s subscription) matches(name string) bool {
	if prefix, ok := strings.CutSuffix(s.pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return s.pattern == name
}

// Dispatcher implements cloner.EventPublisher
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []subscription
	queue  *AsyncQueue
	now    func() time.Time
	logger *zap.Logger
}

var _ cloner.EventPublisher = (*Dispatcher)(nil)

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithQueue sets the worker pool of asynchronous listeners
func WithQueue(q *AsyncQueue) Option {
	return func(d *Dispatcher) {
		d.queue = q
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock replaces the time source of Event.At
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a dispatcher with no listeners
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Listen registers a synchronous listener
func (d *Dispatcher) Listen(pattern string, l Listener) {
	d.subscribe(subscription{pattern: pattern, listener: l})
}

// ListenAsync registers a listener run on the dispatcher's queue. It fails
// when no queue is configured.
func (d *Dispatcher) ListenAsync(pattern string, l Listener) error {
	if d.queue == nil {
		return fmt.Errorf("no async queue configured for listener %q", pattern)
	}
	d.subscribe(subscription{pattern: pattern, listener: l, async: true})
	return nil
}

func (d *Dispatcher) subscribe(s subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, s)
}

// HasListeners reports whether any listener matches name
func (d *Dispatcher) HasListeners(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.subs {
		if s.matches(name) {
			return true
		}
	}
	return false
}

// Publish delivers the event to every matching listener
func (d *Dispatcher) Publish(ctx context.Context, name string, clone, src *record.Record) error {
	d.mu.RLock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	stage, resource := ParseName(name)
	ev := Event{
		Name:     name,
		Stage:    stage,
		Resource: resource,
		Clone:    clone,
		Source:   src,
		At:       d.now(),
	}

	for _, s := range subs {
		if !s.matches(name) {
			continue
		}
		if s.async {
			d.enqueue(s, ev)
			continue
		}
		if err := s.listener(ctx, ev); err != nil {
			return fmt.Errorf("listener %q rejected %q: %w", s.pattern, name, err)
		}
	}
	return nil
}

func (d *Dispatcher) enqueue(s subscription, ev Event) {
	snapshot := ev
	snapshot.Clone = ev.Clone.Snapshot()
	snapshot.Source = ev.Source.Snapshot()

	err := d.queue.Enqueue(AsyncTask{
		Name: s.pattern,
		Fn: func(ctx context.Context) error {
			return s.listener(ctx, snapshot)
		},
	})
	if err != nil {
		d.logger.Warn("failed to enqueue async listener",
			zap.String("event", ev.Name),
			zap.String("pattern", s.pattern),
			zap.Error(err),
		)
	}
}
