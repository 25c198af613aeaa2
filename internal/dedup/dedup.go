// Package dedup collapses a merged record set to distinct organizations in
// three tiers: exact EIN, fuzzy name within a city, and website domain.
// Every merge is first-non-null-wins in arrival order, with provenance
// unioned.
package dedup

import (
	"context"
	"runtime"

	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/merge"
	"github.com/sells-group/org-directory/internal/model"
)

// Defaults for Options.
const (
	DefaultThreshold    = 88.0
	DefaultMaxBlockSize = 500
	DefaultAuditMargin  = 3.0
	maxPasses           = 5
)

// MultiValueFields are the fields whose discarded values are retained when
// Options.KeepAlternates is set.
var MultiValueFields = []string{model.FieldPhone, model.FieldEmail, model.FieldWebsite}

// Options tunes deduplication. Zero values take the defaults.
type Options struct {
	// Threshold is the minimum tier 2 name similarity, 0-100.
	Threshold float64
	// MaxBlockSize bounds a tier 2 comparison block. Larger city blocks are
	// split by the first token of the normalized name.
	MaxBlockSize int
	// AuditMargin logs pairs scoring within this distance of Threshold.
	AuditMargin float64
	// Workers sizes the pool scoring tier 2 blocks.
	Workers int
	// KeepAlternates retains non-null values a merge would otherwise drop
	// for MultiValueFields in Record.Alternates. Off by default, which
	// discards them.
	KeepAlternates bool
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxBlockSize < 2 {
		o.MaxBlockSize = DefaultMaxBlockSize
	}
	if o.AuditMargin < 0 {
		o.AuditMargin = 0
	} else if o.AuditMargin == 0 {
		o.AuditMargin = DefaultAuditMargin
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// Report holds record counts after each tier of the first pass, the final
// count, and how many passes ran before nothing more merged.
type Report struct {
	Input      int `json:"input"`
	AfterTier1 int `json:"after_tier1"`
	AfterTier2 int `json:"after_tier2"`
	AfterTier3 int `json:"after_tier3"`
	Output     int `json:"output"`
	Passes     int `json:"passes"`
}

// Deduplicate runs the tiers over records. A merge can complete fields that
// make a record eligible for an earlier tier, so passes repeat until one
// merges nothing; the output is therefore stable under a second call.
// Relative order of surviving records follows their first member's arrival.
func Deduplicate(ctx context.Context, records model.Batch, opts Options) (model.Batch, Report, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "dedup"))
	rep := Report{Input: len(records)}

	cur := records
	for pass := 1; pass <= maxPasses; pass++ {
		before := len(cur)

		t1 := Tier1(cur, opts)
		t2, err := Tier2(ctx, t1, opts)
		if err != nil {
			return nil, rep, err
		}
		t3 := Tier3(t2, opts)

		if pass == 1 {
			rep.AfterTier1, rep.AfterTier2, rep.AfterTier3 = len(t1), len(t2), len(t3)
		}
		log.Info("dedup pass",
			zap.Int("pass", pass),
			zap.Int("input", before),
			zap.Int("after_tier1", len(t1)),
			zap.Int("after_tier2", len(t2)),
			zap.Int("after_tier3", len(t3)),
		)
		cur = t3
		rep.Passes = pass
		if len(cur) == before {
			break
		}
	}
	rep.Output = len(cur)
	return cur, rep, nil
}

// Tier1 merges records sharing an EIN. Records without one pass through.
func Tier1(records model.Batch, opts Options) model.Batch {
	return groupBy(records, opts, func(r model.Record) string {
		return merge.EINKey(r.Text(model.FieldEIN))
	})
}

// Tier3 merges records whose websites share a domain, never combining two
// different EINs.
func Tier3(records model.Batch, opts Options) model.Batch {
	byDomain := make(map[string][]int)
	var order []string
	for i, r := range records {
		d := Domain(r.Text(model.FieldWebsite))
		if d == "" {
			continue
		}
		if _, ok := byDomain[d]; !ok {
			order = append(order, d)
		}
		byDomain[d] = append(byDomain[d], i)
	}

	var clusters [][]int
	for _, d := range order {
		clusters = append(clusters, splitByEIN(records, byDomain[d])...)
	}
	return assemble(records, clusters, opts)
}

// groupBy merges records sharing a non-empty key.
func groupBy(records model.Batch, opts Options, key func(model.Record) string) model.Batch {
	groups := make(map[string][]int)
	var order []string
	for i, r := range records {
		k := key(r)
		if k == "" {
			continue
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}
	clusters := make([][]int, 0, len(order))
	for _, k := range order {
		clusters = append(clusters, groups[k])
	}
	return assemble(records, clusters, opts)
}

// splitByEIN partitions idx greedily so no cluster holds two different
// EINs. Records without an EIN join the first cluster.
func splitByEIN(records model.Batch, idx []int) [][]int {
	var clusters [][]int
	var eins []string
	for _, i := range idx {
		e := merge.EINKey(records[i].Text(model.FieldEIN))
		placed := false
		for c := range clusters {
			if e == "" || eins[c] == "" || eins[c] == e {
				clusters[c] = append(clusters[c], i)
				if eins[c] == "" {
					eins[c] = e
				}
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []int{i})
			eins = append(eins, e)
		}
	}
	return clusters
}

// assemble replaces each multi-member cluster with its merged record at
// the position of its first member. Records in no cluster are kept as-is.
func assemble(records model.Batch, clusters [][]int, opts Options) model.Batch {
	lead := make(map[int]int, len(clusters))
	absorbed := make(map[int]bool)
	for c, members := range clusters {
		if len(members) < 2 {
			continue
		}
		lead[members[0]] = c
		for _, m := range members[1:] {
			absorbed[m] = true
		}
	}
	if len(lead) == 0 {
		return records
	}

	out := make(model.Batch, 0, len(records)-len(absorbed))
	for i, r := range records {
		if absorbed[i] {
			continue
		}
		if c, ok := lead[i]; ok {
			group := make(model.Batch, len(clusters[c]))
			for j, m := range clusters[c] {
				group[j] = records[m]
			}
			out = append(out, MergeRows(group, opts.KeepAlternates))
			continue
		}
		out = append(out, r)
	}
	return out
}

// MergeRows collapses a group into one record: the first member is the
// base and each null field takes the first non-null value among later
// members. Provenance is the union of all members. With keepAlternates,
// distinct non-null values of MultiValueFields that lost to the base are
// kept in Alternates.
func MergeRows(group model.Batch, keepAlternates bool) model.Record {
	if len(group) == 0 {
		return model.NewRecord()
	}
	out := group[0].Clone()
	for _, r := range group[1:] {
		out = merge.FillNulls(out, r)
		if keepAlternates {
			addAlternates(&out, r)
		}
	}
	return out
}

func addAlternates(dst *model.Record, src model.Record) {
	for _, f := range MultiValueFields {
		primary := dst.Get(f)
		for _, v := range append([]any{src.Get(f)}, src.Alternates[f]...) {
			if v == nil || v == primary || containsValue(dst.Alternates[f], v) {
				continue
			}
			if dst.Alternates == nil {
				dst.Alternates = make(map[string][]any)
			}
			dst.Alternates[f] = append(dst.Alternates[f], v)
		}
	}
}

func containsValue(vs []any, v any) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}
