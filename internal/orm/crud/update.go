package crud

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/cloner/internal/orm/record"
)

// Update writes every column of an existing record by primary key
func (s *Store) Update(ctx context.Context, rec *record.Record) error {
	resource := rec.Resource
	pk := resource.PrimaryKeyName()
	id := rec.ID()
	if id == nil {
		return fmt.Errorf("%w: %s has no primary key value", ErrNotFound, resource.Name)
	}

	data := record.CopyAttributes(rec.Attributes)
	if data == nil {
		data = make(map[string]interface{})
	}
	s.populateAutoFields(resource, data, OperationUpdate)

	var fields []string
	for name := range resource.Fields {
		if _, ok := data[name]; ok && name != pk {
			fields = append(fields, name)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)

	sets := make([]string, len(fields))
	values := make([]interface{}, 0, len(fields)+1)
	for i, name := range fields {
		sets[i] = fmt.Sprintf("%s = %s", s.dialect.Quote(name), s.dialect.Placeholder(i+1))
		values = append(values, data[name])
	}
	values = append(values, id)

	returnFields := sortedFields(resource)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = %s RETURNING %s",
		s.dialect.Quote(resource.TableName),
		strings.Join(sets, ", "),
		s.dialect.Quote(pk),
		s.dialect.Placeholder(len(fields)+1),
		s.quoteAll(returnFields),
	)

	updated, err := scanRowWithColumns(s.db.QueryRowContext(ctx, query, values...), returnFields)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", ConvertDBError(err))
	}

	rec.Attributes = updated
	return nil
}
