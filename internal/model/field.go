package model

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Kind is the declared type of a canonical field.
type Kind string

const (
	KindString Kind = "string"
	KindFloat  Kind = "float"
	// KindDate is a categorical date, kept as its string form.
	KindDate Kind = "date"
)

// Field describes one canonical column.
type Field struct {
	Name        string  `yaml:"name"`
	Kind        Kind    `yaml:"kind"`
	Weight      float64 `yaml:"weight"`
	Derived     bool    `yaml:"derived"`
	Description string  `yaml:"description"`
}

// Schema is the ordered canonical field set with indexed lookups.
type Schema struct {
	Fields  []Field
	byName  map[string]int
	version string
}

//go:embed schema.yaml
var schemaYAML []byte

var canonical = mustLoadSchema(schemaYAML)

// Canonical returns the process-wide canonical schema.
func Canonical() *Schema { return canonical }

// NewSchema builds a Schema with indexed lookups.
func NewSchema(fields []Field) (*Schema, error) {
	s := &Schema{
		Fields: fields,
		byName: make(map[string]int, len(fields)),
	}
	h := sha256.New()
	for i, f := range fields {
		if f.Name == "" {
			return nil, eris.Errorf("schema: field %d has no name", i)
		}
		switch f.Kind {
		case KindString, KindFloat, KindDate:
		default:
			return nil, eris.Errorf("schema: field %s has unknown kind %q", f.Name, f.Kind)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, eris.Errorf("schema: duplicate field %s", f.Name)
		}
		s.byName[f.Name] = i
		h.Write([]byte(f.Name + ":" + string(f.Kind) + ";"))
	}
	s.version = hex.EncodeToString(h.Sum(nil))[:12]
	return s, nil
}

func mustLoadSchema(data []byte) *Schema {
	var doc struct {
		Fields []Field `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		panic(eris.Wrap(err, "schema: parse embedded schema"))
	}
	s, err := NewSchema(doc.Fields)
	if err != nil {
		panic(err)
	}
	return s
}

// Index returns the position of the named field, or -1.
func (s *Schema) Index(name string) int {
	if i, ok := s.byName[name]; ok {
		return i
	}
	return -1
}

// Has reports whether name is a canonical field.
func (s *Schema) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Kind returns the declared kind of name. Unknown names report KindString.
func (s *Schema) Kind(name string) Kind {
	if i, ok := s.byName[name]; ok {
		return s.Fields[i].Kind
	}
	return KindString
}

// Names returns the field names in canonical order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Len returns the number of canonical fields.
func (s *Schema) Len() int { return len(s.Fields) }

// Version is a short digest of the field names and kinds. It changes whenever
// the canonical column set changes, which lets persisted state detect skew.
func (s *Schema) Version() string { return s.version }

// Weights returns the configured confidence weights keyed by field name.
func (s *Schema) Weights() map[string]float64 {
	out := make(map[string]float64)
	for _, f := range s.Fields {
		if f.Weight > 0 {
			out[f.Name] = f.Weight
		}
	}
	return out
}

// Canonical field names referenced by merge, dedup and scoring.
const (
	FieldName        = "org_name"
	FieldEIN         = "ein"
	FieldCity        = "city"
	FieldState       = "state"
	FieldStreet      = "street_address"
	FieldWebsite     = "website"
	FieldPhone       = "phone"
	FieldEmail       = "email"
	FieldDataSources = "data_sources"
	FieldFreshness   = "data_freshness_date"
	FieldRevenue     = "total_revenue"
	FieldRevenueBand = "annual_revenue_range"
	FieldScore       = "confidence_score"
	FieldGrade       = "confidence_grade"
)

// SplitList splits a semicolon-separated column value into trimmed items.
func SplitList(s string) []string {
	parts := strings.Split(s, ";")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
