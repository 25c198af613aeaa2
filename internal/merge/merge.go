// Package merge combines per-source batches into one record set. Keyed
// sources join onto the base source by EIN. Field conflicts resolve by
// source priority: a value is replaced only by a strictly higher priority
// source, and null cells take the first non-null value offered.
package merge

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/model"
)

// Source is one extractor's output.
type Source struct {
	Name    string
	Records model.Batch
	// Keyed sources join on EIN. The others are appended as-is.
	Keyed bool
	// Base marks the source the keyed sources join onto. Its rows define
	// the keyed record set wherever it sits in the priority list.
	Base bool
}

// Stats records the effect of merging one source.
type Stats struct {
	Source  string `json:"source"`
	Input   int    `json:"input"`
	Matched int    `json:"matched"`
	Before  int    `json:"before"`
	After   int    `json:"after"`
}

// MergeAll merges sources onto the base source. The base is the source
// flagged Base, or the first keyed source in priority order when none is.
// Every other keyed source is left-joined onto the result by EIN in
// priority order: its rows with no base match are dropped, and of several
// rows sharing an EIN only the first is used. Non-keyed sources are then
// appended. Sources missing from priority rank after the listed ones in
// name order.
//
// Inputs are not modified.
func MergeAll(priority []string, sources []Source) (model.Batch, []Stats) {
	log := zap.L().With(zap.String("component", "merge"))
	ordered := Order(priority, sources)

	base := -1
	for i, src := range ordered {
		if src.Base {
			base = i
			break
		}
	}
	if base < 0 {
		for i, src := range ordered {
			if src.Keyed {
				base = i
				break
			}
		}
	}

	var (
		result model.Batch
		owners []map[string]int
		stats  []Stats
	)
	if base >= 0 {
		src := ordered[base]
		result = cloneBatch(src.Records)
		owners = make([]map[string]int, len(result))
		for i, r := range result {
			owners[i] = ownedBy(r, base)
		}
		stats = append(stats, Stats{Source: src.Name, Input: len(src.Records), After: len(result)})
		log.Info("merge base",
			zap.String("source", src.Name),
			zap.Int("rank", base),
			zap.Int("records", len(result)),
		)
	}

	for rank, src := range ordered {
		if rank == base || !src.Keyed {
			continue
		}
		st := Stats{Source: src.Name, Input: len(src.Records), Before: len(result)}
		if len(src.Records) == 0 {
			log.Info("skipping empty source", zap.String("source", src.Name))
		} else {
			st.Matched = join(result, owners, src.Records, rank)
			log.Info("merged keyed source",
				zap.String("source", src.Name),
				zap.Int("input", len(src.Records)),
				zap.Int("matched", st.Matched),
				zap.Int("records", len(result)),
			)
		}
		st.After = len(result)
		stats = append(stats, st)
	}

	for rank, src := range ordered {
		if rank == base || src.Keyed {
			continue
		}
		st := Stats{Source: src.Name, Input: len(src.Records), Before: len(result)}
		result = append(result, cloneBatch(src.Records)...)
		st.After = len(result)
		stats = append(stats, st)
		log.Info("appended source",
			zap.String("source", src.Name),
			zap.Int("input", len(src.Records)),
			zap.Int("records", len(result)),
		)
	}
	return result, stats
}

// Order sorts sources by priority; unlisted sources follow in name order.
func Order(priority []string, sources []Source) []Source {
	rank := make(map[string]int, len(priority))
	for i, name := range priority {
		if _, dup := rank[name]; !dup {
			rank[name] = i
		}
	}
	out := make([]Source, len(sources))
	copy(out, sources)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Name]
		rj, jok := rank[out[j].Name]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i].Name < out[j].Name
		}
	})
	return out
}

// join merges src into result in place, matching on EIN. A cell takes the
// incoming value when it is null or when its owner ranks below rank (a
// larger rank number). It returns how many result records matched. Result
// records without an EIN never match.
func join(result model.Batch, owners []map[string]int, src model.Batch, rank int) int {
	byEIN := make(map[string]model.Record, len(src))
	for _, r := range src {
		k := EINKey(r.Text(model.FieldEIN))
		if k == "" {
			continue
		}
		if _, dup := byEIN[k]; !dup {
			byEIN[k] = r
		}
	}

	matched := 0
	for i, r := range result {
		// byEIN has no "" key, so records without an EIN fall through.
		m, ok := byEIN[EINKey(r.Text(model.FieldEIN))]
		if !ok {
			continue
		}
		out := r.Clone()
		for _, name := range model.Canonical().Names() {
			if name == model.FieldDataSources {
				continue
			}
			v := m.Get(name)
			if v == nil {
				continue
			}
			if owner, set := owners[i][name]; set && !out.IsNull(name) && owner <= rank {
				continue
			}
			out.Set(name, v)
			owners[i][name] = rank
		}
		out.Sources = out.Sources.Union(m.Sources)
		result[i] = out
		matched++
	}
	return matched
}

// ownedBy assigns every non-null field of r to the source at rank.
func ownedBy(r model.Record, rank int) map[string]int {
	owned := make(map[string]int)
	for _, name := range model.Canonical().Names() {
		if name != model.FieldDataSources && !r.IsNull(name) {
			owned[name] = rank
		}
	}
	return owned
}

// FillNulls returns a copy of dst with every null field taken from src,
// and provenance unioned.
func FillNulls(dst, src model.Record) model.Record {
	out := dst.Clone()
	for _, name := range model.Canonical().Names() {
		if name == model.FieldDataSources || !out.IsNull(name) {
			continue
		}
		if v := src.Get(name); v != nil {
			out.Set(name, v)
		}
	}
	out.Sources = out.Sources.Union(src.Sources)
	return out
}

// EINKey normalizes an EIN for joining: digits only, so "45-4138378" and
// "454138378" match.
func EINKey(ein string) string {
	var b strings.Builder
	for _, r := range ein {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func cloneBatch(b model.Batch) model.Batch {
	out := make(model.Batch, len(b))
	for i, r := range b {
		out[i] = r.Clone()
	}
	return out
}
