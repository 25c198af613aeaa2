// Package pipeline runs the directory build end to end: base extract,
// keyed enrichment, non-keyed sources, merge, dedup and output. Each stage
// is recorded as a phase in the run log.
package pipeline

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/org-directory/internal/checkpoint"
	"github.com/sells-group/org-directory/internal/config"
	"github.com/sells-group/org-directory/internal/dedup"
	"github.com/sells-group/org-directory/internal/extract"
	"github.com/sells-group/org-directory/internal/merge"
	"github.com/sells-group/org-directory/internal/model"
	"github.com/sells-group/org-directory/internal/output"
	"github.com/sells-group/org-directory/internal/store"
)

// ErrNoBase is returned when the base stage is skipped and no completed
// base checkpoint exists.
var ErrNoBase = eris.New("pipeline: base stage skipped and no base checkpoint found; run stage 1 first")

// Sources builds the extractors for a run. *sources.Registry implements it.
type Sources interface {
	// Base returns nil when the base source is disabled.
	Base() extract.Extractor
	Keyed(eins []string) []extract.Extractor
	NonKeyed() []extract.Extractor
}

// Sink receives the final record set after the files are written.
type Sink func(ctx context.Context, records model.Batch) (int64, error)

// Pipeline orchestrates the stages.
type Pipeline struct {
	cfg     *config.Config
	sources Sources
	ckpt    *checkpoint.Store
	runner  *extract.Runner
	store   store.Store
	sink    Sink
	now     func() time.Time
}

// New creates a Pipeline. st may be nil to run without a run log.
func New(cfg *config.Config, src Sources, ckpt *checkpoint.Store, st store.Store) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		sources: src,
		ckpt:    ckpt,
		runner:  extract.NewRunner(ckpt),
		store:   st,
		now:     time.Now,
	}
}

// WithSink sets a sink that receives the output records.
func (p *Pipeline) WithSink(s Sink) *Pipeline {
	p.sink = s
	return p
}

// Result is what a run produced.
type Result struct {
	RunID   string              `json:"run_id,omitempty"`
	Records model.Batch         `json:"-"`
	Files   output.Files        `json:"files"`
	Merge   []merge.Stats       `json:"merge,omitempty"`
	Dedup   dedup.Report        `json:"dedup"`
	Phases  []model.PhaseResult `json:"phases"`
}

// run carries state between stages.
type run struct {
	opts     model.RunOptions
	log      *zap.Logger
	res      *Result
	runID    string
	mu       sync.Mutex
	base     model.Batch
	keyed    []merge.Source
	nonKeyed []merge.Source
	records  model.Batch
}

// Run executes the selected stages. Skipped extraction stages fall back to
// their completed checkpoints; a skipped merge passes the base through.
// With opts.Clean every checkpoint is removed first. opts.State restricts
// the base and non-keyed records to one state before enrichment.
//
// Sources that fail are logged and left out; only interruption and
// internal errors (checkpoint or output writes) abort the run.
func (p *Pipeline) Run(ctx context.Context, opts model.RunOptions) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	if len(opts.Stages) == 0 {
		opts.Stages = AllStages()
	}
	r := &run{opts: opts, log: log, res: &Result{}}

	if opts.Clean {
		n, err := p.ckpt.ClearAll()
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: clear checkpoints")
		}
		log.Info("cleared checkpoints", zap.Int("count", n))
	}

	if p.store != nil {
		rec, err := p.store.CreateRun(ctx, opts)
		if err != nil {
			log.Warn("pipeline: failed to create run", zap.Error(err))
		} else {
			r.runID = rec.ID
			r.res.RunID = rec.ID
		}
	}

	start := p.now()
	log.Info("pipeline: starting",
		zap.Ints("stages", opts.Stages),
		zap.Bool("resume", opts.Resume),
		zap.String("state", opts.State),
	)

	err := p.execute(ctx, r)
	r.res.Records = r.records
	p.finishRun(ctx, r, err)
	if err != nil {
		return r.res, err
	}

	log.Info("pipeline: complete",
		zap.Int("records", len(r.records)),
		zap.Duration("elapsed", p.now().Sub(start)),
		zap.String("output", r.res.Files.CSV),
	)
	return r.res, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	steps := []struct {
		stage   int
		run     func(context.Context, *run, *model.PhaseResult) error
		skipped func(*run) error
	}{
		{StageBase, p.runBase, p.loadBase},
		{StageKeyed, p.runKeyed, p.loadKeyed},
		{StageNonKeyed, p.runNonKeyed, p.loadNonKeyed},
		{StageMerge, p.runMerge, passBase},
		{StageDedup, p.runDedup, nil},
		{StageOutput, p.runOutput, nil},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "pipeline: interrupted")
		}
		if slices.Contains(r.opts.Stages, s.stage) {
			if err := p.track(ctx, r, StageName(s.stage), func(pr *model.PhaseResult) error {
				return s.run(ctx, r, pr)
			}); err != nil {
				return err
			}
			continue
		}
		p.skip(ctx, r, StageName(s.stage))
		if s.skipped != nil {
			if err := s.skipped(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// track runs fn as a logged phase.
func (p *Pipeline) track(ctx context.Context, r *run, name string, fn func(pr *model.PhaseResult) error) error {
	var phase *model.RunPhase
	if p.store != nil && r.runID != "" {
		var err error
		if phase, err = p.store.CreatePhase(ctx, r.runID, name); err != nil {
			r.log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(err))
		}
	}

	pr := &model.PhaseResult{Name: name}
	start := p.now()
	fnErr := fn(pr)
	pr.Duration = p.now().Sub(start).Milliseconds()

	if fnErr != nil {
		pr.Status = model.PhaseStatusFailed
		pr.Error = fnErr.Error()
		r.log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", pr.Duration),
			zap.Error(fnErr),
		)
	} else {
		pr.Status = model.PhaseStatusComplete
		r.log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int("records", pr.Records),
			zap.Int64("duration_ms", pr.Duration),
		)
	}
	p.recordPhase(ctx, r, phase, pr)
	return fnErr
}

func (p *Pipeline) skip(ctx context.Context, r *run, name string) {
	var phase *model.RunPhase
	if p.store != nil && r.runID != "" {
		phase, _ = p.store.CreatePhase(ctx, r.runID, name)
	}
	r.log.Info("pipeline: phase skipped", zap.String("phase", name))
	p.recordPhase(ctx, r, phase, &model.PhaseResult{Name: name, Status: model.PhaseStatusSkipped})
}

func (p *Pipeline) recordPhase(ctx context.Context, r *run, phase *model.RunPhase, pr *model.PhaseResult) {
	if phase != nil {
		if err := p.store.CompletePhase(context.WithoutCancel(ctx), phase.ID, pr); err != nil {
			r.log.Warn("pipeline: failed to complete phase", zap.String("phase", pr.Name), zap.Error(err))
		}
	}
	r.mu.Lock()
	r.res.Phases = append(r.res.Phases, *pr)
	r.mu.Unlock()
}

func (p *Pipeline) finishRun(ctx context.Context, r *run, runErr error) {
	if p.store == nil || r.runID == "" {
		return
	}
	result := &model.RunResult{
		Records: len(r.records),
		Output:  r.res.Files.CSV,
		Phases:  r.res.Phases,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	if err := p.store.CompleteRun(context.WithoutCancel(ctx), r.runID, result); err != nil {
		r.log.Warn("pipeline: failed to complete run", zap.Error(err))
	}
}

// Stage 1.

func (p *Pipeline) runBase(ctx context.Context, r *run, pr *model.PhaseResult) error {
	ex := p.sources.Base()
	if ex == nil {
		r.log.Warn("base source disabled; keyed sources have nothing to join onto")
		return nil
	}
	b, err := p.runner.Run(ctx, ex, r.opts.Resume)
	if err != nil {
		return err
	}
	r.base = p.filterState(r, b)
	pr.Records = len(r.base)
	pr.Metadata = map[string]any{"extracted": len(b)}
	return nil
}

func (p *Pipeline) loadBase(r *run) error {
	ex := p.sources.Base()
	if ex == nil {
		return ErrNoBase
	}
	var b model.Batch
	if !p.ckpt.Load(extract.CheckpointName(ex.Name()), &b) {
		return ErrNoBase
	}
	r.log.Info("loaded base from checkpoint", zap.Int("records", len(b)))
	r.base = p.filterState(r, b)
	return nil
}

func (p *Pipeline) baseName() string {
	if ex := p.sources.Base(); ex != nil {
		return ex.Name()
	}
	return "base"
}

// Stage 2.

func (p *Pipeline) runKeyed(ctx context.Context, r *run, pr *model.PhaseResult) error {
	eins := EINs(r.base)
	exs := p.sources.Keyed(eins)
	r.log.Info("enriching EINs", zap.Int("eins", len(eins)), zap.Int("sources", len(exs)))

	batches := make([]model.Batch, len(exs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ex := range exs {
		g.Go(func() error {
			b, err := p.runner.Run(gctx, ex, r.opts.Resume)
			if err != nil {
				return err
			}
			batches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	counts := make(map[string]any, len(exs))
	r.keyed = make([]merge.Source, len(exs))
	for i, ex := range exs {
		r.keyed[i] = merge.Source{Name: ex.Name(), Records: batches[i], Keyed: true}
		counts[ex.Name()] = len(batches[i])
		pr.Records += len(batches[i])
	}
	pr.Metadata = map[string]any{"eins": len(eins), "sources": counts}
	return nil
}

func (p *Pipeline) loadKeyed(r *run) error {
	r.keyed = p.loadAll(r, p.sources.Keyed(nil), true)
	return nil
}

// Stage 3.

func (p *Pipeline) runNonKeyed(ctx context.Context, r *run, pr *model.PhaseResult) error {
	counts := make(map[string]any)
	for _, ex := range p.sources.NonKeyed() {
		b, err := p.runner.Run(ctx, ex, r.opts.Resume)
		if err != nil {
			return err
		}
		b = p.filterState(r, b)
		r.nonKeyed = append(r.nonKeyed, merge.Source{Name: ex.Name(), Records: b})
		counts[ex.Name()] = len(b)
		pr.Records += len(b)
	}
	pr.Metadata = map[string]any{"sources": counts}
	return nil
}

func (p *Pipeline) loadNonKeyed(r *run) error {
	r.nonKeyed = p.loadAll(r, p.sources.NonKeyed(), false)
	for i := range r.nonKeyed {
		r.nonKeyed[i].Records = p.filterState(r, r.nonKeyed[i].Records)
	}
	return nil
}

// loadAll reads completed checkpoints for exs. Missing ones are empty.
func (p *Pipeline) loadAll(r *run, exs []extract.Extractor, keyed bool) []merge.Source {
	out := make([]merge.Source, 0, len(exs))
	for _, ex := range exs {
		var b model.Batch
		if p.ckpt.Load(extract.CheckpointName(ex.Name()), &b) {
			r.log.Info("loaded source from checkpoint", zap.String("source", ex.Name()), zap.Int("records", len(b)))
		}
		out = append(out, merge.Source{Name: ex.Name(), Records: b, Keyed: keyed})
	}
	return out
}

// Stage 4.

func (p *Pipeline) runMerge(_ context.Context, r *run, pr *model.PhaseResult) error {
	all := make([]merge.Source, 0, 1+len(r.keyed)+len(r.nonKeyed))
	all = append(all, merge.Source{Name: p.baseName(), Records: r.base, Keyed: true, Base: true})
	all = append(all, r.keyed...)
	all = append(all, r.nonKeyed...)

	records, stats := merge.MergeAll(p.cfg.Merge.Priority, all)
	r.records = records
	r.res.Merge = stats
	pr.Records = len(records)
	pr.Metadata = map[string]any{"sources": stats}
	return nil
}

func passBase(r *run) error {
	r.records = r.base
	return nil
}

// Stage 5.

func (p *Pipeline) runDedup(ctx context.Context, r *run, pr *model.PhaseResult) error {
	dc := p.cfg.Dedup
	records, rep, err := dedup.Deduplicate(ctx, r.records, dedup.Options{
		Threshold:      dc.Threshold,
		MaxBlockSize:   dc.MaxBlockSize,
		AuditMargin:    dc.AuditMargin,
		Workers:        dc.Workers,
		KeepAlternates: dc.KeepAlternates,
	})
	if err != nil {
		return err
	}
	r.log.Info("dedup removed records", zap.Int("removed", len(r.records)-len(records)))
	r.records = records
	r.res.Dedup = rep
	pr.Records = len(records)
	pr.Metadata = map[string]any{
		"input":       rep.Input,
		"after_tier1": rep.AfterTier1,
		"after_tier2": rep.AfterTier2,
		"after_tier3": rep.AfterTier3,
		"passes":      rep.Passes,
	}
	return nil
}

// Stage 6.

func (p *Pipeline) runOutput(ctx context.Context, r *run, pr *model.PhaseResult) error {
	oc := p.cfg.Output
	final, files, err := output.Write(r.records, output.Options{
		Dir:  oc.Dir,
		Name: oc.Name,
		XLSX: oc.XLSX,
		Now:  p.now(),
	})
	if err != nil {
		return err
	}
	r.records = final
	r.res.Files = files
	pr.Records = len(final)
	pr.Metadata = map[string]any{"csv": files.CSV}

	if p.sink != nil {
		n, err := p.sink(ctx, final)
		if err != nil {
			r.log.Error("pipeline: sink failed; files were written", zap.Error(err))
			pr.Metadata["sink_error"] = err.Error()
		} else {
			pr.Metadata["sink_rows"] = n
		}
	}
	return nil
}

// EINs returns the distinct non-empty EINs of records in first-seen order.
func EINs(records model.Batch) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range records {
		ein := strings.TrimSpace(rec.Text(model.FieldEIN))
		k := merge.EINKey(ein)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ein)
	}
	return out
}

// FilterState keeps records whose state matches code, ignoring case and
// surrounding space.
func FilterState(records model.Batch, code string) model.Batch {
	code = strings.TrimSpace(code)
	out := make(model.Batch, 0, len(records))
	for _, rec := range records {
		if strings.EqualFold(strings.TrimSpace(rec.Text(model.FieldState)), code) {
			out = append(out, rec)
		}
	}
	return out
}

func (p *Pipeline) filterState(r *run, b model.Batch) model.Batch {
	if r.opts.State == "" {
		return b
	}
	out := FilterState(b, r.opts.State)
	r.log.Info("state filter",
		zap.String("state", r.opts.State),
		zap.Int("kept", len(out)),
		zap.Int("of", len(b)),
	)
	if len(out) == 0 && len(b) > 0 {
		r.log.Warn("no records matched the state filter; check the state is a two-letter code")
	}
	return out
}
