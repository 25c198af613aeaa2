// Package model defines the canonical organization record, its schema, and
// provenance tracking shared by extraction, merge and dedup.
package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"
)

// Record is one organization row conforming to the canonical schema. A value
// of nil is an explicit null. Values hold only string or float64.
//
// Merge and dedup never mutate a Record they did not create; use Clone and
// With to derive new records.
type Record struct {
	values  []any
	Sources Provenance
	// Alternates holds non-null values discarded by a merge, keyed by field.
	// Only populated when the deduplicator is asked to keep them.
	Alternates map[string][]any
}

// Batch is an ordered set of records produced by one stage.
type Batch []Record

// NewRecord returns an all-null record.
func NewRecord() Record {
	return Record{values: make([]any, canonical.Len())}
}

// RecordFrom builds a record from already-typed values keyed by canonical
// name. Unknown names are ignored. Callers that need casting should go
// through schema.Coerce instead.
func RecordFrom(vals map[string]any, sources ...string) Record {
	r := NewRecord()
	for k, v := range vals {
		if i := canonical.Index(k); i >= 0 {
			r.values[i] = v
		}
	}
	r.Sources = NewProvenance(sources...)
	return r
}

func (r *Record) ensure() {
	if len(r.values) != canonical.Len() {
		v := make([]any, canonical.Len())
		copy(v, r.values)
		r.values = v
	}
}

// Get returns the value of name, or nil when null or unknown. The derived
// data_sources column renders the provenance set.
func (r Record) Get(name string) any {
	if name == FieldDataSources {
		if len(r.Sources) == 0 {
			return nil
		}
		return r.Sources.String()
	}
	i := canonical.Index(name)
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// IsNull reports whether name holds no value.
func (r Record) IsNull(name string) bool {
	return r.Get(name) == nil
}

// Text returns the value of name as a string; null yields "".
func (r Record) Text(name string) string {
	return FormatValue(r.Get(name))
}

// Set assigns name on a record the caller owns. Unknown names are ignored.
func (r *Record) Set(name string, v any) {
	i := canonical.Index(name)
	if i < 0 {
		return
	}
	r.ensure()
	r.values[i] = v
}

// With returns a copy of r with name set to v.
func (r Record) With(name string, v any) Record {
	c := r.Clone()
	c.Set(name, v)
	return c
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	c := Record{
		values:  slices.Clone(r.values),
		Sources: slices.Clone(r.Sources),
	}
	c.ensure()
	if len(r.Alternates) > 0 {
		c.Alternates = make(map[string][]any, len(r.Alternates))
		for k, v := range r.Alternates {
			c.Alternates[k] = slices.Clone(v)
		}
	}
	return c
}

// Values returns a copy of the values in canonical order, with the derived
// data_sources column rendered.
func (r Record) Values() []any {
	out := make([]any, canonical.Len())
	for i, f := range canonical.Fields {
		out[i] = r.Get(f.Name)
	}
	return out
}

// Map returns the non-null values keyed by field name.
func (r Record) Map() map[string]any {
	out := make(map[string]any)
	for _, f := range canonical.Fields {
		if v := r.Get(f.Name); v != nil {
			out[f.Name] = v
		}
	}
	return out
}

// Equal reports whether two records hold the same values and provenance.
func (r Record) Equal(o Record) bool {
	return slices.Equal(r.Values(), o.Values()) &&
		slices.Equal(r.Sources, o.Sources) &&
		maps.EqualFunc(r.Alternates, o.Alternates, slices.Equal[[]any])
}

type recordJSON struct {
	Values     map[string]any   `json:"values"`
	Sources    []string         `json:"sources,omitempty"`
	Alternates map[string][]any `json:"alternates,omitempty"`
}

// MarshalJSON encodes the record keyed by field name so persisted batches
// survive column reordering.
func (r Record) MarshalJSON() ([]byte, error) {
	vals := make(map[string]any)
	for i, f := range canonical.Fields {
		if f.Derived || i >= len(r.values) || r.values[i] == nil {
			continue
		}
		vals[f.Name] = r.values[i]
	}
	return json.Marshal(recordJSON{Values: vals, Sources: r.Sources, Alternates: r.Alternates})
}

// UnmarshalJSON decodes a record written by MarshalJSON. Values for fields
// no longer in the schema are dropped; kinds are restored from the schema.
func (r *Record) UnmarshalJSON(data []byte) error {
	var rj recordJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return eris.Wrap(err, "model: decode record")
	}
	*r = NewRecord()
	for k, v := range rj.Values {
		i := canonical.Index(k)
		if i < 0 || v == nil {
			continue
		}
		switch canonical.Fields[i].Kind {
		case KindFloat:
			f, ok := v.(float64)
			if !ok {
				return eris.Errorf("model: field %s: expected number, got %T", k, v)
			}
			r.values[i] = f
		default:
			s, ok := v.(string)
			if !ok {
				return eris.Errorf("model: field %s: expected string, got %T", k, v)
			}
			r.values[i] = s
		}
	}
	r.Sources = NewProvenance(rj.Sources...)
	if len(r.Sources) == 0 {
		r.Sources = nil
	}
	r.Alternates = rj.Alternates
	return nil
}

// FormatValue renders a record value for text output.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
