package crud

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

// Insert writes a new row for rec and refreshes its attributes from the
// columns the database returns
func (s *Store) Insert(ctx context.Context, rec *record.Record) error {
	resource := rec.Resource
	data := record.CopyAttributes(rec.Attributes)
	if data == nil {
		data = make(map[string]interface{})
	}

	s.populateAutoFields(resource, data, OperationCreate)

	var fields []string
	for name := range resource.Fields {
		if _, ok := data[name]; ok {
			fields = append(fields, name)
		}
	}
	if len(fields) == 0 {
		return fmt.Errorf("no fields to insert into %s", resource.Name)
	}
	sort.Strings(fields)

	placeholders := make([]string, len(fields))
	values := make([]interface{}, len(fields))
	for i, name := range fields {
		placeholders[i] = s.dialect.Placeholder(i + 1)
		values[i] = data[name]
	}

	// Explicit RETURNING clause with all fields in sorted order for determinism
	returnFields := sortedFields(resource)

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		s.dialect.Quote(resource.TableName),
		s.quoteAll(fields),
		strings.Join(placeholders, ", "),
		s.quoteAll(returnFields),
	)

	inserted, err := scanRowWithColumns(s.db.QueryRowContext(ctx, query, values...), returnFields)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", ConvertDBError(err))
	}

	rec.Attributes = inserted
	rec.MarkPersisted()
	return nil
}

// populateAutoFields populates @auto fields like id, created_at, updated_at
func (s *Store) populateAutoFields(resource *schema.ResourceSchema, data map[string]interface{}, operation Operation) {
	now := s.now()

	for name, field := range resource.Fields {
		hasAuto := field.HasAnnotation("auto")
		hasPrimary := field.HasAnnotation("primary")
		isTimestamp := field.Type != nil && field.Type.BaseType == schema.TypeTimestamp

		switch operation {
		case OperationCreate:
			if hasAuto && hasPrimary && data[name] == nil && field.Type != nil && field.Type.BaseType == schema.TypeUUID {
				data[name] = uuid.NewString()
			}
			if (name == schema.CreatedAtField || name == schema.UpdatedAtField) && isTimestamp && data[name] == nil {
				data[name] = now
			}

		case OperationUpdate:
			if name == schema.UpdatedAtField && isTimestamp {
				data[name] = now
			}
			if field.HasAnnotation("auto_update") && isTimestamp {
				data[name] = now
			}
		}
	}
}
