package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// document is the YAML layout of a schema file
type document struct {
	Resources []resourceDoc `yaml:"resources"`
}

type resourceDoc struct {
	Name          string                     `yaml:"name"`
	Documentation string                     `yaml:"doc"`
	Table         string                     `yaml:"table"`
	WithCount     []string                   `yaml:"with_count"`
	Fields        map[string]fieldDoc        `yaml:"fields"`
	Relationships map[string]relationshipDoc `yaml:"relationships"`
	Clone         cloneDoc                   `yaml:"clone"`
}

type fieldDoc struct {
	Type        string   `yaml:"type"`
	Nullable    bool     `yaml:"nullable"`
	Annotations []string `yaml:"annotations"`
}

type relationshipDoc struct {
	Type           string `yaml:"type"`
	Target         string `yaml:"target"`
	ForeignKey     string `yaml:"foreign_key"`
	Nullable       bool   `yaml:"nullable"`
	OrderBy        string `yaml:"order_by"`
	JoinTable      string `yaml:"join_table"`
	AssociationKey string `yaml:"association_key"`
	JoinKey        string `yaml:"join_key"`
	JoinTimestamps bool   `yaml:"join_timestamps"`
}

type cloneDoc struct {
	Exempt    []string `yaml:"exempt"`
	Files     []string `yaml:"files"`
	Relations []string `yaml:"relations"`
}

// LoadFile reads a YAML schema file into a validated registry
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML resource declarations into a validated registry
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	registry := NewRegistry()
	for _, rd := range doc.Resources {
		resource, err := rd.toSchema()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(resource); err != nil {
			return nil, err
		}
	}

	if err := registry.ValidateAll(); err != nil {
		return nil, err
	}

	return registry, nil
}

func (rd resourceDoc) toSchema() (*ResourceSchema, error) {
	resource := NewResourceSchema(rd.Name)
	resource.Documentation = rd.Documentation
	if rd.Table != "" {
		resource.TableName = rd.Table
	}
	resource.WithCount = rd.WithCount

	for name, fd := range rd.Fields {
		base, err := ParsePrimitiveType(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("resource %s field %s: %w", rd.Name, name, err)
		}
		field := &Field{
			Name: name,
			Type: &TypeSpec{BaseType: base, Nullable: fd.Nullable},
		}
		for _, a := range fd.Annotations {
			field.Annotations = append(field.Annotations, Annotation{Name: a})
		}
		resource.Fields[name] = field
	}

	for name, rel := range rd.Relationships {
		relType, err := ParseRelationType(rel.Type)
		if err != nil {
			return nil, fmt.Errorf("resource %s relationship %s: %w", rd.Name, name, err)
		}
		resource.Relationships[name] = &Relationship{
			Type:           relType,
			TargetResource: rel.Target,
			FieldName:      name,
			Nullable:       rel.Nullable,
			ForeignKey:     rel.ForeignKey,
			OrderBy:        rel.OrderBy,
			JoinTable:      rel.JoinTable,
			AssociationKey: rel.AssociationKey,
			JoinKey:        rel.JoinKey,
			JoinTimestamps: rel.JoinTimestamps,
		}
	}

	resource.Clone = CloneSpec{
		ExemptAttributes: rd.Clone.Exempt,
		FileAttributes:   rd.Clone.Files,
		Relations:        rd.Clone.Relations,
	}

	return resource, nil
}
