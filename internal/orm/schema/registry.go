package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownResource is returned when a resource is not registered
	ErrUnknownResource = errors.New("unknown resource")

	// ErrInvalidSchema is returned when a schema fails structural validation
	ErrInvalidSchema = errors.New("invalid schema")
)

// Registry manages all resource schemas known to the cloner
type Registry struct {
	schemas map[string]*ResourceSchema
	mu      sync.RWMutex
}

// NewRegistry creates a new schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*ResourceSchema),
	}
}

// Register registers a new resource schema
func (r *Registry) Register(schema *ResourceSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[schema.Name]; exists {
		return fmt.Errorf("resource %s is already registered", schema.Name)
	}

	// Relationship targets are checked in ValidateAll to allow forward references
	if err := validateStructural(schema); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", schema.Name, err)
	}

	r.schemas[schema.Name] = schema
	return nil
}

// Get retrieves a resource schema by name
func (r *Registry) Get(name string) (*ResourceSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, exists := r.schemas[name]
	return schema, exists
}

// Lookup retrieves a resource schema or returns ErrUnknownResource
func (r *Registry) Lookup(name string) (*ResourceSchema, error) {
	schema, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return schema, nil
}

// All returns a copy of all registered schemas
func (r *Registry) All() map[string]*ResourceSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ResourceSchema, len(r.schemas))
	for k, v := range r.schemas {
		result[k] = v
	}
	return result
}

// List returns the sorted names of all registered resources
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered schemas
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.schemas)
}

// ValidateAll checks relationship targets across schemas and rejects clone
// declarations that would recurse forever
func (r *Registry) ValidateAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.schemas) {
		schema := r.schemas[name]
		for _, relName := range sortedKeys(schema.Relationships) {
			rel := schema.Relationships[relName]
			if _, ok := r.schemas[rel.TargetResource]; !ok {
				return fmt.Errorf("%w: resource %s references unknown resource %s in relationship %s",
					ErrInvalidSchema, schema.Name, rel.TargetResource, relName)
			}
		}
	}

	return NewCloneGraph(r.schemas).Validate()
}

// validateStructural validates a single schema without looking at other resources
func validateStructural(schema *ResourceSchema) error {
	if schema.Name == "" {
		return fmt.Errorf("%w: resource name is required", ErrInvalidSchema)
	}
	if len(schema.Fields) == 0 {
		return fmt.Errorf("%w: resource %s has no fields", ErrInvalidSchema, schema.Name)
	}

	for name, rel := range schema.Relationships {
		if rel.TargetResource == "" {
			return fmt.Errorf("%w: relationship %s has no target resource", ErrInvalidSchema, name)
		}
		switch rel.Type {
		case RelationshipBelongsTo:
			if rel.ForeignKey != "" && !schema.HasField(rel.ForeignKey) {
				return fmt.Errorf("%w: belongs_to %s foreign key %s is not a field of %s",
					ErrInvalidSchema, name, rel.ForeignKey, schema.Name)
			}
		case RelationshipHasManyThrough:
			if rel.JoinTable == "" {
				return fmt.Errorf("%w: has_many_through %s requires a join table", ErrInvalidSchema, name)
			}
		}
	}

	for _, name := range schema.Clone.Relations {
		if !schema.HasRelationship(name) {
			return fmt.Errorf("%w: cloneable relation %s is not declared on %s", ErrInvalidSchema, name, schema.Name)
		}
	}
	for _, name := range schema.Clone.FileAttributes {
		if !schema.HasField(name) {
			return fmt.Errorf("%w: file attribute %s is not a field of %s", ErrInvalidSchema, name, schema.Name)
		}
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
