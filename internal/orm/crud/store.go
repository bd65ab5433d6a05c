// Package crud persists records of the schema registry over database/sql. Its
// Store is the SQL implementation of the cloner persistence interface.
package crud

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/conduit-lang/cloner/internal/orm/dialect"
	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/relationships"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

// Operation represents a write operation type
type Operation int

const (
	// OperationCreate represents a create operation
	OperationCreate Operation = iota
	// OperationUpdate represents an update operation
	OperationUpdate
)

// String returns the string representation of the operation
func (o Operation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Executor runs statements; both *sql.DB and *sql.Tx satisfy it
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store reads and writes the records of one SQL datastore
type Store struct {
	name     string
	db       Executor
	dialect  dialect.Dialect
	registry *schema.Registry
	loader   *relationships.Loader
	now      func() time.Time
}

// New creates a store named name over db
func New(name string, db Executor, d dialect.Dialect, registry *schema.Registry) *Store {
	return &Store{
		name:     name,
		db:       db,
		dialect:  d,
		registry: registry,
		loader:   relationships.NewLoader(db, registry, d, name),
		now:      time.Now,
	}
}

// Name returns the datastore name of the store
func (s *Store) Name() string {
	return s.name
}

// Dialect returns the SQL dialect of the store
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// WithTx returns a copy of the store whose statements run inside tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	clone := *s
	clone.db = tx
	clone.loader = s.loader.WithQuerier(tx)
	return &clone
}

// SetClock replaces the time source used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Related returns the records related to owner through rel
func (s *Store) Related(ctx context.Context, owner *record.Record, rel *schema.Relationship) ([]*record.Record, error) {
	related, err := s.loader.Load(ctx, owner, rel)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	return related, nil
}

// sortedFields returns the field names of a resource in sorted order
func sortedFields(resource *schema.ResourceSchema) []string {
	fields := make([]string, 0, len(resource.Fields))
	for name := range resource.Fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}

// quoteAll quotes each identifier and joins them with commas
func (s *Store) quoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, ident := range idents {
		quoted[i] = s.dialect.Quote(ident)
	}
	return strings.Join(quoted, ", ")
}
