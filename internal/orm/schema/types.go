// Package schema describes the resources the cloner works on: their columns,
// their relationships and the per-type clone declarations (exempt attributes,
// file attributes and cloneable relations).
package schema

import (
	"fmt"
)

// Conventional audit column names assigned by the persistence layer
const (
	CreatedAtField = "created_at"
	UpdatedAtField = "updated_at"

	// DefaultPrimaryKey is used when no field carries the primary annotation
	DefaultPrimaryKey = "id"

	// CountSuffix is appended to relation names for derived count columns
	CountSuffix = "_count"
)

// PrimitiveType represents the column types understood by the stores
type PrimitiveType int

const (
	// Text types
	TypeString PrimitiveType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Unique identifiers
	TypeUUID

	// JSON types
	TypeJSON
)

// String returns the string representation of the primitive type
func (p PrimitiveType) String() string {
	switch p {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParsePrimitiveType converts a string to a PrimitiveType
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "int":
		return TypeInt, nil
	case "bigint":
		return TypeBigInt, nil
	case "float":
		return TypeFloat, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool":
		return TypeBool, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "uuid":
		return TypeUUID, nil
	case "json":
		return TypeJSON, nil
	default:
		return 0, fmt.Errorf("unknown primitive type: %s", s)
	}
}

// TypeSpec represents a column type with nullability
type TypeSpec struct {
	BaseType PrimitiveType
	Nullable bool
}

// String returns a string representation of the TypeSpec
func (t *TypeSpec) String() string {
	if t.Nullable {
		return t.BaseType.String() + "?"
	}
	return t.BaseType.String() + "!"
}

// Field represents a column in a resource schema
type Field struct {
	Name        string
	Type        *TypeSpec
	Annotations []Annotation
}

// HasAnnotation reports whether the field carries the named annotation
func (f *Field) HasAnnotation(name string) bool {
	for _, annotation := range f.Annotations {
		if annotation.Name == name {
			return true
		}
	}
	return false
}

// Annotation represents field annotations like @primary, @auto
type Annotation struct {
	Name string
	Args []interface{}
}

// RelationType represents the type of relationship
type RelationType int

const (
	RelationshipBelongsTo RelationType = iota
	RelationshipHasMany
	RelationshipHasManyThrough
	RelationshipHasOne
)

// String returns the string representation of the relationship type
func (r RelationType) String() string {
	switch r {
	case RelationshipBelongsTo:
		return "belongs_to"
	case RelationshipHasMany:
		return "has_many"
	case RelationshipHasManyThrough:
		return "has_many_through"
	case RelationshipHasOne:
		return "has_one"
	default:
		return "unknown"
	}
}

// ParseRelationType converts a string to a RelationType
func ParseRelationType(s string) (RelationType, error) {
	switch s {
	case "belongs_to":
		return RelationshipBelongsTo, nil
	case "has_many":
		return RelationshipHasMany, nil
	case "has_many_through":
		return RelationshipHasManyThrough, nil
	case "has_one":
		return RelationshipHasOne, nil
	default:
		return 0, fmt.Errorf("unknown relationship type: %s", s)
	}
}

// Relationship represents a relationship between resources
type Relationship struct {
	Type           RelationType
	TargetResource string
	FieldName      string
	Nullable       bool

	// For belongs_to this column lives on the owner; for has_many/has_one it
	// lives on the target; for has_many_through it is the owner column in the
	// join table.
	ForeignKey string

	// For has_many
	OrderBy string

	// For has_many_through
	JoinTable      string
	AssociationKey string
	JoinKey        string // generated key of the join row, empty when it has none
	JoinTimestamps bool
}

// CloneSpec holds the clone declarations of a resource
type CloneSpec struct {
	ExemptAttributes []string
	FileAttributes   []string
	Relations        []string
}

// ResourceSchema represents the complete schema for a resource
type ResourceSchema struct {
	Name          string
	Documentation string

	Fields        map[string]*Field
	Relationships map[string]*Relationship

	// Relations whose counts are materialized as <relation>_count columns
	WithCount []string

	Clone CloneSpec

	TableName string
}

// NewResourceSchema creates a new ResourceSchema
func NewResourceSchema(name string) *ResourceSchema {
	return &ResourceSchema{
		Name:          name,
		Fields:        make(map[string]*Field),
		Relationships: make(map[string]*Relationship),
		TableName:     ToTableName(name),
	}
}

// GetPrimaryKey returns the primary key field
func (r *ResourceSchema) GetPrimaryKey() (*Field, error) {
	for _, field := range r.Fields {
		if field.HasAnnotation("primary") {
			return field, nil
		}
	}
	return nil, fmt.Errorf("resource %s has no primary key", r.Name)
}

// PrimaryKeyName returns the primary key column, falling back to "id"
func (r *ResourceSchema) PrimaryKeyName() string {
	if pk, err := r.GetPrimaryKey(); err == nil {
		return pk.Name
	}
	return DefaultPrimaryKey
}

// HasField returns true if the resource has a field with the given name
func (r *ResourceSchema) HasField(name string) bool {
	_, exists := r.Fields[name]
	return exists
}

// HasRelationship returns true if the resource has a relationship with the given name
func (r *ResourceSchema) HasRelationship(name string) bool {
	_, exists := r.Relationships[name]
	return exists
}

// IdentityAttributes returns the primary key and both audit timestamps.
// They are never copied into a clone, whatever the declared exemptions.
func (r *ResourceSchema) IdentityAttributes() []string {
	return []string{r.PrimaryKeyName(), CreatedAtField, UpdatedAtField}
}

// CloneExemptAttributes returns the attributes never copied into a clone:
// the identity attributes, every <relation>_count column and the user
// declared exemptions.
func (r *ResourceSchema) CloneExemptAttributes() []string {
	exempt := r.IdentityAttributes()
	for _, rel := range r.WithCount {
		exempt = append(exempt, rel+CountSuffix)
	}
	return append(exempt, r.Clone.ExemptAttributes...)
}

// CloneableFileAttributes returns the attributes holding attachment references
func (r *ResourceSchema) CloneableFileAttributes() []string {
	if len(r.Clone.FileAttributes) == 0 {
		return []string{}
	}
	return r.Clone.FileAttributes
}

// CloneableRelations returns the relations traversed when cloning
func (r *ResourceSchema) CloneableRelations() []string {
	if len(r.Clone.Relations) == 0 {
		return []string{}
	}
	return r.Clone.Relations
}

// AddCloneableRelation adds a relation to the clone declarations once
func (r *ResourceSchema) AddCloneableRelation(name string) {
	for _, existing := range r.Clone.Relations {
		if existing == name {
			return
		}
	}
	r.Clone.Relations = append(r.Clone.Relations, name)
}

// ToTableName converts a resource name to a table name (snake_case plural)
func ToTableName(resourceName string) string {
	return pluralize(ToSnakeCase(resourceName))
}

// ToSnakeCase converts a string to snake_case
func ToSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}

// pluralize adds simple pluralization
func pluralize(s string) string {
	n := len(s)
	if n == 0 {
		return s
	}
	switch {
	case s[n-1] == 's' || s[n-1] == 'x' || s[n-1] == 'z':
		return s + "es"
	case s[n-1] == 'y':
		return s[:n-1] + "ies"
	default:
		return s + "s"
	}
}

// ResolveForeignKey returns the foreign key column of the relationship,
// deriving the conventional name when none was declared
func (rel *Relationship) ResolveForeignKey(owner *ResourceSchema) string {
	if rel.ForeignKey != "" {
		return rel.ForeignKey
	}
	if rel.Type == RelationshipBelongsTo {
		return ToSnakeCase(rel.TargetResource) + "_id"
	}
	return ToSnakeCase(owner.Name) + "_id"
}

// ResolveAssociationKey returns the target column of a has_many_through join table
func (rel *Relationship) ResolveAssociationKey() string {
	if rel.AssociationKey != "" {
		return rel.AssociationKey
	}
	return ToSnakeCase(rel.TargetResource) + "_id"
}
