package crud

import (
	"context"
	"fmt"

	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

// Find retrieves a record by its primary key
func (s *Store) Find(ctx context.Context, resource *schema.ResourceSchema, id interface{}) (*record.Record, error) {
	columns := sortedFields(resource)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s LIMIT 1",
		s.quoteAll(columns),
		s.dialect.Quote(resource.TableName),
		s.dialect.Quote(resource.PrimaryKeyName()),
		s.dialect.Placeholder(1))

	attrs, err := scanRowWithColumns(s.db.QueryRowContext(ctx, query, id), columns)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s %v: %w", resource.Name, id, ConvertDBError(err))
	}

	return record.Load(resource, s.name, attrs), nil
}

// FindByName looks the resource up in the registry and retrieves a record
func (s *Store) FindByName(ctx context.Context, resource string, id interface{}) (*record.Record, error) {
	res, err := s.registry.Lookup(resource)
	if err != nil {
		return nil, err
	}
	return s.Find(ctx, res, id)
}
