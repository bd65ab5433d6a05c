package crud

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

// Attach inserts a join row linking owner and related. The join row's own
// key, if any, is left to the database.
func (s *Store) Attach(ctx context.Context, owner *record.Record, rel *schema.Relationship, related *record.Record, pivot map[string]interface{}) error {
	if rel.Type != schema.RelationshipHasManyThrough {
		return fmt.Errorf("cannot attach through %s relationship %s", rel.Type, rel.FieldName)
	}

	row := make(map[string]interface{}, len(pivot)+4)
	for k, v := range pivot {
		row[k] = v
	}
	row[rel.ResolveForeignKey(owner.Resource)] = owner.ID()
	row[rel.ResolveAssociationKey()] = related.ID()
	if rel.JoinTimestamps {
		now := s.now()
		row[schema.CreatedAtField] = now
		row[schema.UpdatedAtField] = now
	}

	columns := make([]string, 0, len(row))
	for k := range row {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	placeholders := make([]string, len(columns))
	values := make([]interface{}, len(columns))
	for i, c := range columns {
		placeholders[i] = s.dialect.Placeholder(i + 1)
		values[i] = row[c]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.Quote(rel.JoinTable),
		s.quoteAll(columns),
		strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to attach %s to %s: %w", related.TypeName(), owner.TypeName(), ConvertDBError(err))
	}
	return nil
}
