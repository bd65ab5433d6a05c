package cloner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

// Kind is the cardinality kind that selects the duplication strategy of a
// relation
type Kind int

const (
	// KindToManyDirect relations own their targets; targets are cloned
	KindToManyDirect Kind = iota
	// KindToManyPivoted relations share their targets; the clone is attached
	// to the same targets through the join table
	KindToManyPivoted
	// KindToOneOwning relations point at one target through a foreign key
	// on the owner; the target is cloned and the owner re-pointed at it
	KindToOneOwning
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindToManyDirect:
		return "to-many-direct"
	case KindToManyPivoted:
		return "to-many-pivoted"
	case KindToOneOwning:
		return "to-one-owning"
	default:
		return "unknown"
	}
}

// KindOf maps a relationship type to its duplication kind
func KindOf(t schema.RelationType) Kind {
	switch t {
	case schema.RelationshipBelongsTo:
		return KindToOneOwning
	case schema.RelationshipHasManyThrough:
		return KindToManyPivoted
	default:
		return KindToManyDirect
	}
}

// Relation is one relationship bound to the record that owns it
type Relation struct {
	Name   string
	Schema *schema.Relationship
	Owner  *record.Record
}

// Kind returns the duplication kind of the relation
func (r *Relation) Kind() Kind {
	return KindOf(r.Schema.Type)
}

// ForeignKey returns the foreign key column of the relation
func (r *Relation) ForeignKey() string {
	return r.Schema.ResolveForeignKey(r.Owner.Resource)
}

// Save persists child through a to-many-direct relation, writing the link to
// the owner together with the child. The other kinds link differently: an
// owning relation re-points its owner after the child is saved, and a
// pivoted relation attaches existing targets. Save rejects both.
func (r *Relation) Save(ctx context.Context, store Store, child *record.Record) error {
	if r.Kind() != KindToManyDirect {
		return fmt.Errorf("%w: %s relation %s.%s cannot save through its foreign key",
			ErrRelationResolution, r.Kind(), r.Owner.TypeName(), r.Name)
	}
	child.Set(r.ForeignKey(), r.Owner.ID())
	return save(ctx, store, child)
}

// resolveRelation looks up a relation name on the source record
func resolveRelation(src *record.Record, name string) (*Relation, error) {
	rel, ok := src.Resource.Relationships[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no relationship %q", ErrRelationResolution, src.TypeName(), name)
	}
	return &Relation{Name: name, Schema: rel, Owner: src}, nil
}

// duplicateRelation clones or re-attaches the records related to src
// through name onto clone
func (e *Engine) duplicateRelation(ctx context.Context, c call, src *record.Record, name string, clone *record.Record) error {
	relation, err := resolveRelation(src, name)
	if err != nil {
		return err
	}

	if relation.Kind() == KindToManyPivoted {
		return e.duplicatePivotedRelation(ctx, c, relation, clone)
	}
	return e.duplicateDirectRelation(ctx, c, relation, clone)
}

// duplicatePivotedRelation attaches the clone to the same targets as the
// source, carrying the join row attributes over
func (e *Engine) duplicatePivotedRelation(ctx context.Context, c call, relation *Relation, clone *record.Record) error {
	// Targets may not exist, or may have other keys, in another datastore
	if c.crossStore {
		e.logger.Debug("skipping pivoted relation across datastores",
			zap.String("resource", relation.Owner.TypeName()),
			zap.String("relation", relation.Name),
			zap.String("datastore", c.target),
		)
		return nil
	}

	related, err := e.related(ctx, relation)
	if err != nil {
		return err
	}

	store, err := e.store(clone.Datastore())
	if err != nil {
		return err
	}

	for _, foreign := range related {
		pivot := pivotAttributes(relation.Schema, relation.Owner.Resource, foreign.Pivot)
		if err := store.Attach(ctx, clone, relation.Schema, foreign, pivot); err != nil {
			return fmt.Errorf("%w: attach %s to %s.%s: %w",
				ErrPersistence, foreign.TypeName(), clone.TypeName(), relation.Name, err)
		}
	}

	return nil
}

// duplicateDirectRelation clones every target and links it to the clone
func (e *Engine) duplicateDirectRelation(ctx context.Context, c call, relation *Relation, clone *record.Record) error {
	related, err := e.related(ctx, relation)
	if err != nil {
		return err
	}

	target := &Relation{Name: relation.Name, Schema: relation.Schema, Owner: clone}

	for _, foreign := range related {
		foreignClone, err := e.duplicate(ctx, c, foreign, target)
		if err != nil {
			return err
		}

		if target.Kind() != KindToOneOwning {
			continue
		}

		store, err := e.store(clone.Datastore())
		if err != nil {
			return err
		}
		clone.Set(target.ForeignKey(), foreignClone.ID())
		if err := save(ctx, store, clone); err != nil {
			return err
		}
	}

	return nil
}

// related loads the records currently related to the relation owner
func (e *Engine) related(ctx context.Context, relation *Relation) ([]*record.Record, error) {
	store, err := e.store(relation.Owner.Datastore())
	if err != nil {
		return nil, err
	}

	related, err := store.Related(ctx, relation.Owner, relation.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s.%s: %w", relation.Owner.TypeName(), relation.Name, err)
	}
	return related, nil
}

// pivotAttributes returns the join row minus both foreign keys, the join
// row's own generated key and its timestamps
func pivotAttributes(rel *schema.Relationship, owner *schema.ResourceSchema, pivot map[string]interface{}) map[string]interface{} {
	skip := map[string]bool{
		rel.ResolveForeignKey(owner): true,
		rel.ResolveAssociationKey():  true,
		schema.CreatedAtField:        true,
		schema.UpdatedAtField:        true,
	}
	if rel.JoinKey != "" {
		skip[rel.JoinKey] = true
	}

	out := make(map[string]interface{}, len(pivot))
	for k, v := range pivot {
		if skip[k] {
			continue
		}
		out[k] = record.CopyValue(v)
	}
	return out
}
