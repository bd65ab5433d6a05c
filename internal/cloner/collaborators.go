package cloner

import (
	"context"

	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

// Store is the persistence layer a datastore exposes to the engine
type Store interface {
	// Insert writes a new record, assigning its primary key and timestamps
	Insert(ctx context.Context, rec *record.Record) error

	// Update writes the attributes of an existing record
	Update(ctx context.Context, rec *record.Record) error

	// Related returns the records currently related to owner through rel.
	// Records loaded through a has_many_through relation carry their join
	// row in Pivot.
	Related(ctx context.Context, owner *record.Record, rel *schema.Relationship) ([]*record.Record, error)

	// Attach links related to owner through the join table of rel
	Attach(ctx context.Context, owner *record.Record, rel *schema.Relationship, related *record.Record, pivot map[string]interface{}) error
}

// AttachmentDuplicator copies externally stored content
type AttachmentDuplicator interface {
	// Duplicate stores an independent copy of the content behind reference
	// for newOwner and returns the reference of the copy. It must not
	// modify newOwner.
	Duplicate(ctx context.Context, reference string, newOwner *record.Record) (string, error)
}

// AttachmentDuplicatorFunc adapts a function to AttachmentDuplicator
type AttachmentDuplicatorFunc func(ctx context.Context, reference string, newOwner *record.Record) (string, error)

// Duplicate calls f
func (f AttachmentDuplicatorFunc) Duplicate(ctx context.Context, reference string, newOwner *record.Record) (string, error) {
	return f(ctx, reference, newOwner)
}

// EventPublisher delivers lifecycle events synchronously
type EventPublisher interface {
	Publish(ctx context.Context, name string, clone, src *record.Record) error
}

// EventPublisherFunc adapts a function to EventPublisher
type EventPublisherFunc func(ctx context.Context, name string, clone, src *record.Record) error

// Publish calls f
func (f EventPublisherFunc) Publish(ctx context.Context, name string, clone, src *record.Record) error {
	return f(ctx, name, clone, src)
}

// Event name prefixes
const (
	CloningEventPrefix = "cloning: "
	ClonedEventPrefix  = "cloned: "
)

// CloningEvent returns the name of the event published before a record of
// the given resource is first persisted
func CloningEvent(resource string) string {
	return CloningEventPrefix + resource
}

// ClonedEvent returns the name of the event published once a clone of the
// given resource and its relations are persisted
func ClonedEvent(resource string) string {
	return ClonedEventPrefix + resource
}
