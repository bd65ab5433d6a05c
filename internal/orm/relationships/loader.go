// Package relationships loads the records related to one owner record over
// database/sql
package relationships

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/cloner/internal/orm/dialect"
	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

// Querier is an interface for executing SQL queries, allowing for testing and instrumentation
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Loader reads related records of one datastore
type Loader struct {
	db        Querier
	registry  *schema.Registry
	dialect   dialect.Dialect
	datastore string
}

// NewLoader creates a new relationship loader. datastore is stamped on every
// record it loads.
func NewLoader(db Querier, registry *schema.Registry, d dialect.Dialect, datastore string) *Loader {
	return &Loader{
		db:        db,
		registry:  registry,
		dialect:   d,
		datastore: datastore,
	}
}

// WithQuerier returns a loader reading through db, e.g. a transaction
func (l *Loader) WithQuerier(db Querier) *Loader {
	clone := *l
	clone.db = db
	return &clone
}

// LoadByName loads a relationship of the owner by name
func (l *Loader) LoadByName(ctx context.Context, owner *record.Record, name string) ([]*record.Record, error) {
	rel, ok := owner.Resource.Relationships[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelationship, owner.TypeName(), name)
	}
	return l.Load(ctx, owner, rel)
}

// Load returns the records currently related to owner through rel. Records
// loaded through a join table carry every column of their join row in Pivot.
func (l *Loader) Load(ctx context.Context, owner *record.Record, rel *schema.Relationship) ([]*record.Record, error) {
	target, err := l.registry.Lookup(rel.TargetResource)
	if err != nil {
		return nil, err
	}

	switch rel.Type {
	case schema.RelationshipBelongsTo:
		return l.loadBelongsTo(ctx, owner, rel, target)
	case schema.RelationshipHasMany:
		return l.loadHasMany(ctx, owner, rel, target, false)
	case schema.RelationshipHasOne:
		return l.loadHasMany(ctx, owner, rel, target, true)
	case schema.RelationshipHasManyThrough:
		return l.loadHasManyThrough(ctx, owner, rel, target)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRelationType, rel.Type)
	}
}

// loadBelongsTo follows the foreign key stored on the owner
//
//	SELECT <columns> FROM users WHERE id = $1 LIMIT 1
func (l *Loader) loadBelongsTo(ctx context.Context, owner *record.Record, rel *schema.Relationship, target *schema.ResourceSchema) ([]*record.Record, error) {
	ref := owner.Get(rel.ResolveForeignKey(owner.Resource))
	if ref == nil {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s LIMIT 1",
		l.columnList(target),
		l.dialect.Quote(target.TableName),
		l.dialect.Quote(target.PrimaryKeyName()),
		l.dialect.Placeholder(1))

	rows, err := l.query(ctx, query, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to query belongs_to relationship: %w", err)
	}
	return l.wrap(target, rows), nil
}

// loadHasMany selects the targets pointing back at the owner
//
//	SELECT <columns> FROM comments WHERE post_id = $1 ORDER BY ...
func (l *Loader) loadHasMany(ctx context.Context, owner *record.Record, rel *schema.Relationship, target *schema.ResourceSchema, single bool) ([]*record.Record, error) {
	id := owner.ID()
	if id == nil {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		l.columnList(target),
		l.dialect.Quote(target.TableName),
		l.dialect.Quote(rel.ResolveForeignKey(owner.Resource)),
		l.dialect.Placeholder(1))
	if rel.OrderBy != "" {
		query += " ORDER BY " + l.quoteSortClause(rel.OrderBy)
	}
	if single {
		query += " LIMIT 1"
	}

	rows, err := l.query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s relationship: %w", rel.Type, err)
	}
	return l.wrap(target, rows), nil
}

// loadHasManyThrough reads the join rows of the owner, then the targets they
// point at
//
//	SELECT * FROM post_tags WHERE post_id = $1
//	SELECT <columns> FROM tags WHERE id IN ($1, $2) ORDER BY ...
func (l *Loader) loadHasManyThrough(ctx context.Context, owner *record.Record, rel *schema.Relationship, target *schema.ResourceSchema) ([]*record.Record, error) {
	id := owner.ID()
	if id == nil {
		return nil, nil
	}

	fk := rel.ResolveForeignKey(owner.Resource)
	assoc := rel.ResolveAssociationKey()

	joinQuery := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		l.dialect.Quote(rel.JoinTable),
		l.dialect.Quote(fk),
		l.dialect.Placeholder(1))
	if rel.JoinKey != "" {
		joinQuery += " ORDER BY " + l.dialect.Quote(rel.JoinKey)
	}

	joins, err := l.query(ctx, joinQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query join table %s: %w", rel.JoinTable, err)
	}
	if len(joins) == 0 {
		return nil, nil
	}

	// Unique target ids, in join row order
	var ids []interface{}
	byTarget := make(map[string][]map[string]interface{})
	for _, join := range joins {
		key := idToString(join[assoc])
		if _, seen := byTarget[key]; !seen {
			ids = append(ids, join[assoc])
		}
		byTarget[key] = append(byTarget[key], join)
	}

	placeholders := make([]string, len(ids))
	for i := range ids {
		placeholders[i] = l.dialect.Placeholder(i + 1)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		l.columnList(target),
		l.dialect.Quote(target.TableName),
		l.dialect.Quote(target.PrimaryKeyName()),
		strings.Join(placeholders, ", "))
	if rel.OrderBy != "" {
		query += " ORDER BY " + l.quoteSortClause(rel.OrderBy)
	}

	targets, err := l.query(ctx, query, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to query has_many_through relationship: %w", err)
	}

	pk := target.PrimaryKeyName()
	rowsByID := make(map[string]map[string]interface{}, len(targets))
	for _, row := range targets {
		rowsByID[idToString(row[pk])] = row
	}

	var out []*record.Record
	link := func(row, join map[string]interface{}) {
		rec := record.Load(target, l.datastore, record.CopyAttributes(row))
		rec.Pivot = join
		out = append(out, rec)
	}

	if rel.OrderBy != "" {
		for _, row := range targets {
			for _, join := range byTarget[idToString(row[pk])] {
				link(row, join)
			}
		}
		return out, nil
	}

	for _, join := range joins {
		if row, ok := rowsByID[idToString(join[assoc])]; ok {
			link(row, join)
		}
	}
	return out, nil
}

func (l *Loader) query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

func (l *Loader) wrap(target *schema.ResourceSchema, rows []map[string]interface{}) []*record.Record {
	out := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, record.Load(target, l.datastore, row))
	}
	return out
}

// columnList returns the quoted field names of a resource in sorted order
func (l *Loader) columnList(resource *schema.ResourceSchema) string {
	columns := make([]string, 0, len(resource.Fields))
	for name := range resource.Fields {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	for i, c := range columns {
		columns[i] = l.dialect.Quote(c)
	}
	return strings.Join(columns, ", ")
}

// quoteSortClause safely quotes column identifiers in an ORDER BY clause
func (l *Loader) quoteSortClause(orderBy string) string {
	parts := strings.Split(orderBy, ",")
	quoted := make([]string, 0, len(parts))

	for _, part := range parts {
		tokens := strings.Fields(part)
		if len(tokens) == 0 {
			continue
		}

		col := l.dialect.Quote(tokens[0])
		if len(tokens) > 1 {
			direction := strings.ToUpper(tokens[1])
			if direction == "ASC" || direction == "DESC" {
				col += " " + direction
			}
		}
		quoted = append(quoted, col)
	}

	return strings.Join(quoted, ", ")
}

// scanRows scans multiple SQL rows into a slice of maps
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// Text columns come back as []byte from some drivers
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// idToString renders a key value for map lookups
func idToString(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
