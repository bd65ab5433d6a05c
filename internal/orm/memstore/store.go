// Package memstore implements the cloner persistence interface in process
// memory. It backs the "memory" datastore driver and the engine tests.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when inserting a primary key twice
	ErrDuplicateKey = errors.New("duplicate primary key")
)

type table struct {
	rows  map[string]map[string]interface{}
	order []string
}

// Store keeps tables and join tables in maps
type Store struct {
	name     string
	registry *schema.Registry
	mu       sync.RWMutex
	data     map[string]*table
	joins    map[string][]map[string]interface{}
	now      func() time.Time
}

// New creates an empty store. name is stamped on every record it loads;
// registry resolves relationship targets.
func New(name string, registry *schema.Registry) *Store {
	return &Store{
		name:     name,
		registry: registry,
		data:     make(map[string]*table),
		joins:    make(map[string][]map[string]interface{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the datastore name of the store
func (s *Store) Name() string {
	return s.name
}

// SetClock replaces the time source used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) table(resource string) *table {
	t, ok := s.data[resource]
	if !ok {
		t = &table{rows: make(map[string]map[string]interface{})}
		s.data[resource] = t
	}
	return t
}

// peek returns the table of a resource without creating it
func (s *Store) peek(resource string) *table {
	if t, ok := s.data[resource]; ok {
		return t
	}
	return &table{rows: map[string]map[string]interface{}{}}
}

// Insert stores a new row. A primary key already present on the record is
// kept, otherwise a uuid is generated.
func (s *Store) Insert(_ context.Context, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := rec.Resource.PrimaryKeyName()
	row := record.CopyAttributes(rec.Attributes)
	if row[pk] == nil {
		row[pk] = uuid.NewString()
	}
	now := s.now()
	row[schema.CreatedAtField] = now
	row[schema.UpdatedAtField] = now

	t := s.table(rec.TypeName())
	key := keyOf(row[pk])
	if _, exists := t.rows[key]; exists {
		return fmt.Errorf("%w: %s %s", ErrDuplicateKey, rec.TypeName(), key)
	}
	t.rows[key] = row
	t.order = append(t.order, key)

	rec.Attributes = record.CopyAttributes(row)
	rec.MarkPersisted()
	return nil
}

// Update overwrites the row of an existing record
func (s *Store) Update(_ context.Context, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.peek(rec.TypeName())
	key := keyOf(rec.ID())
	existing, ok := t.rows[key]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, rec.TypeName(), key)
	}

	row := record.CopyAttributes(rec.Attributes)
	row[schema.CreatedAtField] = existing[schema.CreatedAtField]
	row[schema.UpdatedAtField] = s.now()
	t.rows[key] = row

	rec.Attributes = record.CopyAttributes(row)
	return nil
}

// Find loads a record by primary key
func (s *Store) Find(_ context.Context, resource *schema.ResourceSchema, id interface{}) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.peek(resource.Name).rows[keyOf(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, resource.Name, id)
	}
	return record.Load(resource, s.name, record.CopyAttributes(row)), nil
}

// All returns every record of a resource in insertion order
func (s *Store) All(resource *schema.ResourceSchema) []*record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.peek(resource.Name)
	out := make([]*record.Record, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, record.Load(resource, s.name, record.CopyAttributes(t.rows[key])))
	}
	return out
}

// JoinRows returns a copy of the rows of a join table
func (s *Store) JoinRows(joinTable string) []map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.joins[joinTable]
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		out = append(out, record.CopyAttributes(row))
	}
	return out
}

// Related returns the records related to owner through rel. Records loaded
// through a join table carry the join row in Pivot.
func (s *Store) Related(_ context.Context, owner *record.Record, rel *schema.Relationship) ([]*record.Record, error) {
	target, err := s.registry.Lookup(rel.TargetResource)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fk := rel.ResolveForeignKey(owner.Resource)
	t := s.peek(target.Name)

	if rel.Type != schema.RelationshipBelongsTo && owner.ID() == nil {
		return nil, nil
	}

	var out []*record.Record
	switch rel.Type {
	case schema.RelationshipBelongsTo:
		ref := owner.Get(fk)
		if ref == nil {
			return nil, nil
		}
		if row, ok := t.rows[keyOf(ref)]; ok {
			out = append(out, record.Load(target, s.name, record.CopyAttributes(row)))
		}

	case schema.RelationshipHasMany, schema.RelationshipHasOne:
		ownerKey := keyOf(owner.ID())
		for _, key := range t.order {
			row := t.rows[key]
			if keyOf(row[fk]) == ownerKey {
				out = append(out, record.Load(target, s.name, record.CopyAttributes(row)))
			}
		}
		sortRecords(out, rel.OrderBy)
		if rel.Type == schema.RelationshipHasOne && len(out) > 1 {
			out = out[:1]
		}

	case schema.RelationshipHasManyThrough:
		ownerKey := keyOf(owner.ID())
		assoc := rel.ResolveAssociationKey()
		for _, join := range s.joins[rel.JoinTable] {
			if keyOf(join[fk]) != ownerKey {
				continue
			}
			row, ok := t.rows[keyOf(join[assoc])]
			if !ok {
				continue
			}
			rec := record.Load(target, s.name, record.CopyAttributes(row))
			rec.Pivot = record.CopyAttributes(join)
			out = append(out, rec)
		}
		sortRecords(out, rel.OrderBy)

	default:
		return nil, fmt.Errorf("unsupported relationship type %s", rel.Type)
	}

	return out, nil
}

// Attach inserts a join row linking owner and related
func (s *Store) Attach(_ context.Context, owner *record.Record, rel *schema.Relationship, related *record.Record, pivot map[string]interface{}) error {
	if rel.Type != schema.RelationshipHasManyThrough {
		return fmt.Errorf("cannot attach through %s relationship %s", rel.Type, rel.FieldName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := record.CopyAttributes(pivot)
	if row == nil {
		row = make(map[string]interface{})
	}
	row[rel.ResolveForeignKey(owner.Resource)] = owner.ID()
	row[rel.ResolveAssociationKey()] = related.ID()
	if rel.JoinKey != "" {
		row[rel.JoinKey] = uuid.NewString()
	}
	if rel.JoinTimestamps {
		now := s.now()
		row[schema.CreatedAtField] = now
		row[schema.UpdatedAtField] = now
	}

	s.joins[rel.JoinTable] = append(s.joins[rel.JoinTable], row)
	return nil
}

func keyOf(id interface{}) string {
	if id == nil {
		return ""
	}
	if b, ok := id.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(id)
}

// sortRecords orders records by an "attribute [ASC|DESC]" clause; an empty
// clause keeps insertion order
func sortRecords(recs []*record.Record, orderBy string) {
	parts := strings.Fields(orderBy)
	if len(parts) == 0 {
		return
	}
	attr := parts[0]
	desc := len(parts) > 1 && strings.EqualFold(parts[1], "desc")

	sort.SliceStable(recs, func(i, j int) bool {
		c := compareValues(recs[i].Get(attr), recs[j].Get(attr))
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b interface{}) int {
	switch av := a.(type) {
	case int:
		if bv, ok := b.(int); ok {
			return compareOrdered(av, bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return compareOrdered(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return compareOrdered(av, bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
