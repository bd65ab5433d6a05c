package cloner

import (
	"context"

	"github.com/conduit-lang/cloner/internal/orm/record"
)

// Cloneable customizes how records of one resource are cloned. Register an
// implementation per resource with WithBehavior; resources without one are
// cloned with Defaults.
type Cloneable interface {
	// ExemptAttributes lists the attributes never copied into a clone
	ExemptAttributes(rec *record.Record) []string

	// FileAttributes lists the attributes holding attachment references
	FileAttributes(rec *record.Record) []string

	// CloneableRelations lists, in order, the relations traversed
	CloneableRelations(rec *record.Record) []string

	// OnCloning runs before the clone is first persisted. child is true when
	// the clone is being made as part of a parent's relation.
	OnCloning(ctx context.Context, clone, src *record.Record, child bool) error

	// OnCloned runs after the clone and all its relations are persisted
	OnCloned(ctx context.Context, clone, src *record.Record) error
}

// Defaults implements Cloneable from the resource schema's clone
// declarations with no-op hooks. Embed it to override single methods.
type Defaults struct{}

var _ Cloneable = Defaults{}

// ExemptAttributes returns the primary key, timestamps, count columns and
// declared exemptions
func (Defaults) ExemptAttributes(rec *record.Record) []string {
	return rec.Resource.CloneExemptAttributes()
}

// FileAttributes returns the declared file attributes
func (Defaults) FileAttributes(rec *record.Record) []string {
	return rec.Resource.CloneableFileAttributes()
}

// CloneableRelations returns the declared cloneable relations
func (Defaults) CloneableRelations(rec *record.Record) []string {
	return rec.Resource.CloneableRelations()
}

// OnCloning does nothing
func (Defaults) OnCloning(context.Context, *record.Record, *record.Record, bool) error {
	return nil
}

// OnCloned does nothing
func (Defaults) OnCloned(context.Context, *record.Record, *record.Record) error {
	return nil
}
