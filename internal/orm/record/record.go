// Package record holds the in-memory representation of a persisted resource
// instance: its attribute values, its datastore binding and, when it was
// loaded through a join table, the attributes of the join row.
package record

import (
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

// Record is one instance of a resource
type Record struct {
	Resource   *schema.ResourceSchema
	Attributes map[string]interface{}

	// Pivot holds the join row when the record was loaded through a
	// has_many_through relationship
	Pivot map[string]interface{}

	datastore string
	persisted bool
}

// New creates an empty, not yet persisted record of the given resource
func New(resource *schema.ResourceSchema) *Record {
	return &Record{
		Resource:   resource,
		Attributes: make(map[string]interface{}),
	}
}

// Load wraps attributes read from a store into a persisted record
func Load(resource *schema.ResourceSchema, datastore string, attrs map[string]interface{}) *Record {
	if attrs == nil {
		attrs = make(map[string]interface{})
	}
	return &Record{
		Resource:   resource,
		Attributes: attrs,
		datastore:  datastore,
		persisted:  true,
	}
}

// TypeName returns the resource name of the record
func (r *Record) TypeName() string {
	return r.Resource.Name
}

// ID returns the primary key value, nil before the first insert
func (r *Record) ID() interface{} {
	return r.Attributes[r.Resource.PrimaryKeyName()]
}

// Get returns an attribute value
func (r *Record) Get(name string) interface{} {
	return r.Attributes[name]
}

// Has reports whether the attribute is set
func (r *Record) Has(name string) bool {
	_, ok := r.Attributes[name]
	return ok
}

// Set assigns an attribute value
func (r *Record) Set(name string, value interface{}) {
	r.Attributes[name] = value
}

// Delete removes an attribute
func (r *Record) Delete(name string) {
	delete(r.Attributes, name)
}

// Datastore returns the name of the datastore the record is bound to; the
// empty string means the default datastore
func (r *Record) Datastore() string {
	return r.datastore
}

// SetDatastore binds the record to a datastore
func (r *Record) SetDatastore(name string) {
	r.datastore = name
}

// Exists reports whether the record has been inserted
func (r *Record) Exists() bool {
	return r.persisted
}

// MarkPersisted flags the record as inserted; stores call it after a write
func (r *Record) MarkPersisted() {
	r.persisted = true
}

// Replicate returns a new unsaved record of the same resource and datastore
// holding a deep copy of every attribute not listed in exempt. The primary
// key and audit timestamps are always left out.
func (r *Record) Replicate(exempt []string) *Record {
	identity := r.Resource.IdentityAttributes()
	skip := make(map[string]bool, len(exempt)+len(identity))
	for _, name := range identity {
		skip[name] = true
	}
	for _, name := range exempt {
		skip[name] = true
	}

	clone := New(r.Resource)
	clone.datastore = r.datastore
	for k, v := range r.Attributes {
		if skip[k] {
			continue
		}
		clone.Attributes[k] = CopyValue(v)
	}
	return clone
}

// Snapshot returns a deep copy of the record, persistence state included
func (r *Record) Snapshot() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Resource:   r.Resource,
		Attributes: CopyAttributes(r.Attributes),
		Pivot:      CopyAttributes(r.Pivot),
		datastore:  r.datastore,
		persisted:  r.persisted,
	}
}
