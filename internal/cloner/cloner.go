// Package cloner deep-copies a persisted record and the records that depend
// on it.
//
// A clone receives every attribute of its source except the exempt ones
// (primary key, timestamps, count columns and declared exemptions). Attached
// files are copied through an AttachmentDuplicator. Each declared relation is
// then handled by kind: has_many and has_one targets are cloned and linked to
// the clone, belongs_to targets are cloned and the clone re-pointed at them,
// and has_many_through targets are shared, the clone being attached to the
// same records with the same join attributes.
//
// Cloning runs depth first and synchronously. Nothing is rolled back on
// failure: wrap the call in a transaction when the subtree must be atomic.
package cloner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/cloner/internal/orm/record"
)

// Engine duplicates records. It holds no per-call state and is safe for
// concurrent use once built.
type Engine struct {
	stores       map[string]Store
	defaultStore string
	attachments  AttachmentDuplicator
	events       EventPublisher
	behaviors    map[string]Cloneable
	logger       *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithStore registers the store of a named datastore. Records bound to the
// empty datastore name use the default datastore.
func WithStore(name string, store Store) Option {
	return func(e *Engine) {
		e.stores[name] = store
	}
}

// WithDefaultDatastore names the datastore used by records with no binding
func WithDefaultDatastore(name string) Option {
	return func(e *Engine) {
		e.defaultStore = name
	}
}

// WithAttachments sets the attachment duplicator. Without one, file
// attributes are copied like any other attribute.
func WithAttachments(d AttachmentDuplicator) Option {
	return func(e *Engine) {
		e.attachments = d
	}
}

// WithEvents sets the publisher of the cloning and cloned events
func WithEvents(p EventPublisher) Option {
	return func(e *Engine) {
		e.events = p
	}
}

// WithBehavior registers the Cloneable of a resource
func WithBehavior(resource string, b Cloneable) Option {
	return func(e *Engine) {
		e.behaviors[resource] = b
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine
func New(opts ...Option) *Engine {
	e := &Engine{
		stores:    make(map[string]Store),
		behaviors: make(map[string]Cloneable),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Derive returns a copy of the engine with extra options applied, e.g. to
// swap in transaction-bound stores for one call
func (e *Engine) Derive(opts ...Option) *Engine {
	d := &Engine{
		stores:       make(map[string]Store, len(e.stores)),
		defaultStore: e.defaultStore,
		attachments:  e.attachments,
		events:       e.events,
		behaviors:    make(map[string]Cloneable, len(e.behaviors)),
		logger:       e.logger,
	}
	for k, v := range e.stores {
		d.stores[k] = v
	}
	for k, v := range e.behaviors {
		d.behaviors[k] = v
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// call is the context of one top-level duplication, threaded through the
// recursion
type call struct {
	target     string
	crossStore bool
}

// Duplicate clones src and its cloneable relations and returns the new,
// persisted record
func (e *Engine) Duplicate(ctx context.Context, src *record.Record) (*record.Record, error) {
	return e.duplicate(ctx, call{}, src, nil)
}

// DuplicateTo clones src into another datastore. Every record of the
// subtree is written to datastore; has_many_through relations are not
// carried over.
func (e *Engine) DuplicateTo(ctx context.Context, src *record.Record, datastore string) (*record.Record, error) {
	if _, err := e.store(datastore); err != nil {
		return nil, err
	}
	return e.duplicate(ctx, call{target: datastore, crossStore: true}, src, nil)
}

// duplicate clones one record. parent is the relation, bound to the parent
// clone, through which the record is being cloned; nil at the top level.
func (e *Engine) duplicate(ctx context.Context, c call, src *record.Record, parent *Relation) (*record.Record, error) {
	behavior := e.behavior(src)

	clone := src.Replicate(behavior.ExemptAttributes(src))
	if c.crossStore {
		clone.SetDatastore(c.target)
	}

	child := parent != nil
	if err := behavior.OnCloning(ctx, clone, src, child); err != nil {
		return nil, fmt.Errorf("cloning hook for %s failed: %w", src.TypeName(), err)
	}
	if err := e.publish(ctx, CloningEvent(src.TypeName()), clone, src); err != nil {
		return nil, err
	}

	store, err := e.store(clone.Datastore())
	if err != nil {
		return nil, err
	}

	switch {
	case parent == nil:
		err = save(ctx, store, clone)
	case parent.Kind() == KindToManyDirect:
		err = parent.Save(ctx, store, clone)
	}
	if err != nil {
		return nil, err
	}

	if err := e.duplicateAttachments(ctx, behavior, src, clone); err != nil {
		return nil, err
	}
	if err := save(ctx, store, clone); err != nil {
		return nil, err
	}

	for _, name := range behavior.CloneableRelations(src) {
		if err := e.duplicateRelation(ctx, c, src, name, clone); err != nil {
			return nil, err
		}
	}

	if err := behavior.OnCloned(ctx, clone, src); err != nil {
		return nil, fmt.Errorf("cloned hook for %s failed: %w", src.TypeName(), err)
	}
	if err := e.publish(ctx, ClonedEvent(src.TypeName()), clone, src); err != nil {
		return nil, err
	}

	e.logger.Debug("record cloned",
		zap.String("resource", src.TypeName()),
		zap.Any("source_id", src.ID()),
		zap.Any("clone_id", clone.ID()),
		zap.Bool("child", child),
		zap.String("datastore", clone.Datastore()),
	)

	return clone, nil
}

// duplicateAttachments replaces every non-empty file attribute of the clone
// with a reference to a fresh copy of the source's file
func (e *Engine) duplicateAttachments(ctx context.Context, behavior Cloneable, src, clone *record.Record) error {
	if e.attachments == nil {
		return nil
	}

	for _, name := range behavior.FileAttributes(clone) {
		reference := attachmentReference(src.Get(name))
		if reference == "" {
			continue
		}

		duplicated, err := e.attachments.Duplicate(ctx, reference, clone)
		if err != nil {
			return fmt.Errorf("%w: %s.%s: %w", ErrAttachment, src.TypeName(), name, err)
		}
		clone.Set(name, duplicated)
	}

	return nil
}

// attachmentReference reads a file attribute value as a reference string
func attachmentReference(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case *string:
		if val == nil {
			return ""
		}
		return *val
	default:
		return fmt.Sprint(val)
	}
}

func (e *Engine) behavior(rec *record.Record) Cloneable {
	if b, ok := e.behaviors[rec.TypeName()]; ok {
		return b
	}
	return Defaults{}
}

func (e *Engine) store(datastore string) (Store, error) {
	name := datastore
	if name == "" {
		name = e.defaultStore
	}
	store, ok := e.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDatastore, name)
	}
	return store, nil
}

func (e *Engine) publish(ctx context.Context, name string, clone, src *record.Record) error {
	if e.events == nil {
		return nil
	}
	return e.events.Publish(ctx, name, clone, src)
}

// save inserts a new record or updates an existing one
func save(ctx context.Context, store Store, rec *record.Record) error {
	op := "update"
	var err error
	if rec.Exists() {
		err = store.Update(ctx, rec)
	} else {
		op = "insert"
		err = store.Insert(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrPersistence, op, rec.TypeName(), err)
	}
	return nil
}
