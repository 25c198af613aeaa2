package model

import (
	"slices"
	"strings"
)

// Provenance is the set of source names that contributed to a record. It is
// kept sorted and free of duplicates so that equal sets compare equal.
type Provenance []string

// NewProvenance builds a provenance set from arbitrary names.
func NewProvenance(names ...string) Provenance {
	return Provenance(nil).Add(names...)
}

// Add returns a new set containing p plus names. Empty names are ignored.
func (p Provenance) Add(names ...string) Provenance {
	out := make(Provenance, 0, len(p)+len(names))
	out = append(out, p...)
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Union returns the union of p and other.
func (p Provenance) Union(other Provenance) Provenance {
	return p.Add(other...)
}

// Contains reports whether name is in the set.
func (p Provenance) Contains(name string) bool {
	_, ok := slices.BinarySearch(p, name)
	return ok
}

// String renders the set in the semicolon-joined data_sources format.
func (p Provenance) String() string {
	return strings.Join(p, ";")
}

// ParseProvenance parses a data_sources column value.
func ParseProvenance(s string) Provenance {
	return NewProvenance(SplitList(s)...)
}
