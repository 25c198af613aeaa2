package dedup

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/merge"
	"github.com/sells-group/org-directory/internal/model"
)

// block is one tier 2 comparison group. idx holds record positions in
// arrival order.
type block struct {
	key  string
	idx  []int
	name []string
}

// Tier2 merges records in the same city and state whose normalized names
// are at least opts.Threshold similar. Only records with a name, city and
// state take part. Clustering is greedy in arrival order: a record joins
// the first cluster holding a member it matches, unless that would put two
// different EINs in one cluster.
//
// Blocks are scored concurrently; the result does not depend on scheduling.
func Tier2(ctx context.Context, records model.Batch, opts Options) (model.Batch, error) {
	opts = opts.withDefaults()
	log := zap.L().With(zap.String("component", "dedup"))

	blocks := buildBlocks(records, opts.MaxBlockSize)
	if len(blocks) == 0 {
		return records, nil
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: create worker pool")
	}
	defer pool.Release()

	results := make([][][]int, len(blocks))
	var wg sync.WaitGroup
	for i, b := range blocks {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, eris.Wrap(err, "dedup: tier 2 cancelled")
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = clusterBlock(records, b, opts, log)
		}); err != nil {
			wg.Done()
			wg.Wait()
			return nil, eris.Wrapf(err, "dedup: submit block %s", b.key)
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "dedup: tier 2 cancelled")
	}

	var clusters [][]int
	for _, cs := range results {
		clusters = append(clusters, cs...)
	}
	return assemble(records, clusters, opts), nil
}

// buildBlocks groups eligible records by state and city. A block larger
// than maxSize is split by the first token of the normalized name. Blocks
// with a single record are dropped.
func buildBlocks(records model.Batch, maxSize int) []block {
	byKey := make(map[string]*block)
	var keys []string
	for i, r := range records {
		name := NormalizeName(r.Text(model.FieldName))
		city := strings.ToUpper(strings.TrimSpace(r.Text(model.FieldCity)))
		state := strings.ToUpper(strings.TrimSpace(r.Text(model.FieldState)))
		if name == "" || city == "" || state == "" {
			continue
		}
		k := state + "|" + city
		b, ok := byKey[k]
		if !ok {
			b = &block{key: k}
			byKey[k] = b
			keys = append(keys, k)
		}
		b.idx = append(b.idx, i)
		b.name = append(b.name, name)
	}
	sort.Strings(keys)

	var out []block
	for _, k := range keys {
		b := byKey[k]
		if len(b.idx) < 2 {
			continue
		}
		if len(b.idx) <= maxSize {
			out = append(out, *b)
			continue
		}
		out = append(out, subBlocks(*b)...)
	}
	return out
}

func subBlocks(b block) []block {
	byTok := make(map[string]*block)
	var toks []string
	for j, i := range b.idx {
		tok := b.name[j]
		if sp := strings.IndexByte(tok, ' '); sp >= 0 {
			tok = tok[:sp]
		}
		sb, ok := byTok[tok]
		if !ok {
			sb = &block{key: b.key + "|" + tok}
			byTok[tok] = sb
			toks = append(toks, tok)
		}
		sb.idx = append(sb.idx, i)
		sb.name = append(sb.name, b.name[j])
	}
	sort.Strings(toks)

	out := make([]block, 0, len(toks))
	for _, t := range toks {
		if sb := byTok[t]; len(sb.idx) > 1 {
			out = append(out, *sb)
		}
	}
	return out
}

// clusterBlock returns the multi-member clusters of one block as record
// positions in ascending order.
func clusterBlock(records model.Batch, b block, opts Options, log *zap.Logger) [][]int {
	type cluster struct {
		members []int // positions within b
		ein     string
	}
	var clusters []*cluster

	for j := range b.idx {
		ein := merge.EINKey(records[b.idx[j]].Text(model.FieldEIN))
		placed := false
		for _, c := range clusters {
			if ein != "" && c.ein != "" && ein != c.ein {
				continue
			}
			if !matchesAny(b, j, c.members, opts, log) {
				continue
			}
			c.members = append(c.members, j)
			if c.ein == "" {
				c.ein = ein
			}
			placed = true
			break
		}
		if !placed {
			clusters = append(clusters, &cluster{members: []int{j}, ein: ein})
		}
	}

	var out [][]int
	for _, c := range clusters {
		if len(c.members) < 2 {
			continue
		}
		pos := make([]int, len(c.members))
		for k, m := range c.members {
			pos[k] = b.idx[m]
		}
		out = append(out, pos)
	}
	return out
}

func matchesAny(b block, j int, members []int, opts Options, log *zap.Logger) bool {
	for _, m := range members {
		score := TokenSetRatio(b.name[m], b.name[j])
		if opts.AuditMargin > 0 && score >= opts.Threshold-opts.AuditMargin && score < opts.Threshold+opts.AuditMargin {
			log.Debug("near-threshold name pair",
				zap.String("block", b.key),
				zap.String("a", b.name[m]),
				zap.String("b", b.name[j]),
				zap.Float64("score", score),
				zap.Bool("merged", score >= opts.Threshold),
			)
		}
		if score >= opts.Threshold {
			return true
		}
	}
	return false
}
