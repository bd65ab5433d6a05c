// Package service runs duplication requests against the configured
// datastores. The HTTP handlers and the CLI both go through it.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/cloner/internal/cloner"
	"github.com/conduit-lang/cloner/internal/metrics"
	"github.com/conduit-lang/cloner/internal/orm/crud"
	"github.com/conduit-lang/cloner/internal/orm/datastore"
	"github.com/conduit-lang/cloner/internal/orm/memstore"
	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
	"github.com/conduit-lang/cloner/internal/orm/transaction"
)

// Request names the record to duplicate and how
type Request struct {
	Resource string
	ID       string
	// From is the datastore the source is read from; empty means default
	From string
	// To is the datastore the clone is written to; empty means the source's
	To string
	// Atomic runs the whole duplication in one transaction of the target
	Atomic bool
}

// Failure reasons, used as metric labels
const (
	ReasonNotFound    = "not_found"
	ReasonInvalid     = "invalid"
	ReasonPersistence = "persistence"
	ReasonAttachment  = "attachment"
	ReasonRelation    = "relation"
	ReasonOther       = "other"
)

// Duplicator loads sources and hands them to the engine
type Duplicator struct {
	engine     *cloner.Engine
	datastores *datastore.Datastores
	collector  *metrics.Collector
	retry      *transaction.RetryConfig
	logger     *zap.Logger
}

// Option configures a Duplicator
type Option func(*Duplicator)

// WithCollector reports failures and clone timings to c
func WithCollector(c *metrics.Collector) Option {
	return func(d *Duplicator) {
		d.collector = c
	}
}

// WithRetry sets the retry policy of atomic duplications
func WithRetry(cfg *transaction.RetryConfig) Option {
	return func(d *Duplicator) {
		d.retry = cfg
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(d *Duplicator) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDuplicator creates a Duplicator
func NewDuplicator(engine *cloner.Engine, datastores *datastore.Datastores, opts ...Option) *Duplicator {
	d := &Duplicator{
		engine:     engine,
		datastores: datastores,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Duplicate clones the requested record and returns the clone
func (d *Duplicator) Duplicate(ctx context.Context, req Request) (*record.Record, error) {
	if d.collector != nil {
		var finish func()
		ctx, finish = d.collector.Track(ctx)
		defer finish()
	}

	clone, err := d.duplicate(ctx, req)
	if err != nil {
		reason := Reason(err)
		if d.collector != nil {
			d.collector.ObserveFailure(req.Resource, reason)
		}
		d.logger.Warn("duplication failed",
			zap.String("resource", req.Resource),
			zap.String("id", req.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, err
	}

	d.logger.Info("record duplicated",
		zap.String("resource", req.Resource),
		zap.String("source_id", req.ID),
		zap.Any("clone_id", clone.ID()),
		zap.String("datastore", d.target(req)),
		zap.Bool("atomic", req.Atomic),
	)
	return clone, nil
}

func (d *Duplicator) duplicate(ctx context.Context, req Request) (*record.Record, error) {
	if req.To != "" && !d.datastores.Has(req.To) {
		return nil, fmt.Errorf("%w: %q", datastore.ErrUnknownDatastore, req.To)
	}

	src, err := d.datastores.Find(ctx, req.From, req.Resource, req.ID)
	if err != nil {
		return nil, err
	}

	run := func(ctx context.Context, engine *cloner.Engine) (*record.Record, error) {
		if req.To != "" && req.To != d.source(req) {
			return engine.DuplicateTo(ctx, src, req.To)
		}
		return engine.Duplicate(ctx, src)
	}

	if !req.Atomic {
		return run(ctx, d.engine)
	}

	var clone *record.Record
	err = d.datastores.WithinTransaction(ctx, d.engine, d.target(req), d.retry,
		func(ctx context.Context, engine *cloner.Engine) error {
			var err error
			clone, err = run(ctx, engine)
			return err
		})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

func (d *Duplicator) source(req Request) string {
	if req.From != "" {
		return req.From
	}
	return d.datastores.Default()
}

func (d *Duplicator) target(req Request) string {
	if req.To != "" {
		return req.To
	}
	return d.source(req)
}

// Reason classifies a duplication error
func Reason(err error) string {
	switch {
	case cloner.IsAttachmentFailure(err):
		return ReasonAttachment
	case cloner.IsRelationResolutionFailure(err):
		return ReasonRelation
	case cloner.IsPersistenceFailure(err):
		return ReasonPersistence
	case IsNotFound(err):
		return ReasonNotFound
	case IsInvalid(err):
		return ReasonInvalid
	default:
		return ReasonOther
	}
}

// IsNotFound reports whether err means the resource or the source record
// does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, schema.ErrUnknownResource) ||
		errors.Is(err, crud.ErrNotFound) ||
		errors.Is(err, memstore.ErrNotFound)
}

// IsInvalid reports whether err comes from a request naming a datastore
// that cannot serve it
func IsInvalid(err error) bool {
	return errors.Is(err, datastore.ErrUnknownDatastore) ||
		errors.Is(err, cloner.ErrUnknownDatastore) ||
		errors.Is(err, datastore.ErrNotTransactional)
}
