package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/org-directory/internal/checkpoint"
	"github.com/sells-group/org-directory/internal/config"
	"github.com/sells-group/org-directory/internal/extract"
	"github.com/sells-group/org-directory/internal/model"
	"github.com/sells-group/org-directory/internal/store"
)

type fakeExtractor struct {
	name  string
	rows  []map[string]any
	err   error
	calls int
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) Extract(_ context.Context) ([]map[string]any, error) {
	f.calls++
	return f.rows, f.err
}

type fakeSources struct {
	base     *fakeExtractor
	keyed    []*fakeExtractor
	nonKeyed []*fakeExtractor
	eins     []string
}

func (s *fakeSources) Base() extract.Extractor {
	if s.base == nil {
		return nil
	}
	return s.base
}

func (s *fakeSources) Keyed(eins []string) []extract.Extractor {
	if eins != nil {
		s.eins = eins
	}
	out := make([]extract.Extractor, len(s.keyed))
	for i, k := range s.keyed {
		out[i] = k
	}
	return out
}

func (s *fakeSources) NonKeyed() []extract.Extractor {
	out := make([]extract.Extractor, len(s.nonKeyed))
	for i, k := range s.nonKeyed {
		out[i] = k
	}
	return out
}

func newSources() *fakeSources {
	return &fakeSources{
		base: &fakeExtractor{name: "irs_bmf", rows: []map[string]any{
			{"org_name": "VFW Post 1", "ein": "111111111", "city": "Louisville", "state": "KY"},
			{"org_name": "American Legion Post 5", "ein": "22-2222222", "city": "Lexington", "state": "KY"},
			{"org_name": "Texas Veterans Fund", "ein": "333333333", "city": "Austin", "state": "TX"},
		}},
		keyed: []*fakeExtractor{{name: "propublica", rows: []map[string]any{
			{"ein": "111111111", "total_revenue": 250000.0, "street_address": "100 Main St"},
		}}},
		nonKeyed: []*fakeExtractor{{name: "va_facilities", rows: []map[string]any{
			{"org_name": "Louisville Vet Center", "city": "Louisville", "state": "KY"},
			{"org_name": "Austin Vet Center", "city": "Austin", "state": "TX"},
		}}},
	}
}

type harness struct {
	cfg   *config.Config
	ckpt  *checkpoint.Store
	store *store.SQLiteStore
	src   *fakeSources
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	ckpt, err := checkpoint.New(filepath.Join(dir, "checkpoints"), model.Canonical().Version())
	require.NoError(t, err)
	st, err := store.NewSQLite(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := &config.Config{
		Merge:  config.MergeConfig{Priority: []string{"irs_bmf", "propublica", "va_facilities"}},
		Dedup:  config.DedupConfig{Workers: 2},
		Output: config.OutputConfig{Dir: filepath.Join(dir, "output"), Name: "directory"},
	}
	return &harness{cfg: cfg, ckpt: ckpt, store: st, src: newSources()}
}

func (h *harness) pipeline() *Pipeline {
	p := New(h.cfg, h.src, h.ckpt, h.store)
	p.now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return p
}

func names(b model.Batch) []string {
	out := make([]string, len(b))
	for i, r := range b {
		out[i] = r.Text(model.FieldName)
	}
	return out
}

func TestRun_AllStages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.pipeline().Run(ctx, model.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"111111111", "22-2222222", "333333333"}, h.src.eins)
	require.Len(t, res.Records, 5)
	assert.Equal(t, "American Legion Post 5", res.Records[0].Text(model.FieldName))
	assert.Equal(t, "TX", res.Records[4].Text(model.FieldState))

	var vfw model.Record
	for _, r := range res.Records {
		if r.Text(model.FieldName) == "VFW Post 1" {
			vfw = r
		}
	}
	assert.Equal(t, 250000.0, vfw.Get(model.FieldRevenue))
	assert.Equal(t, "100 Main St", vfw.Get(model.FieldStreet))
	assert.Equal(t, model.Provenance{"irs_bmf", "propublica"}, vfw.Sources)
	assert.False(t, vfw.IsNull(model.FieldGrade))

	assert.FileExists(t, res.Files.CSV)
	assert.FileExists(t, res.Files.Summary)
	require.Len(t, res.Phases, 6)
	for i, ph := range res.Phases {
		assert.Equal(t, StageName(i+1), ph.Name)
		assert.Equal(t, model.PhaseStatusComplete, ph.Status)
	}
	assert.Equal(t, 5, res.Dedup.Output)

	run, err := h.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, 5, run.Result.Records)
	assert.Equal(t, res.Files.CSV, run.Result.Output)

	phases, err := h.store.ListPhases(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, phases, 6)
}

func TestRun_StateFilter(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline().Run(context.Background(), model.RunOptions{State: " ky "})
	require.NoError(t, err)

	assert.Equal(t, []string{"111111111", "22-2222222"}, h.src.eins)
	assert.Equal(t,
		[]string{"American Legion Post 5", "Louisville Vet Center", "VFW Post 1"},
		names(res.Records))
}

func TestRun_SkippedBaseWithoutCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.pipeline().Run(ctx, model.RunOptions{Stages: []int{StageMerge, StageDedup, StageOutput}})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoBase))
	assert.Zero(t, h.src.base.calls)

	run, err := h.store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}

func TestRun_SkippedBaseWhenDisabled(t *testing.T) {
	h := newHarness(t)
	h.src.base = nil

	_, err := h.pipeline().Run(context.Background(), model.RunOptions{Stages: []int{StageOutput}})
	assert.True(t, eris.Is(err, ErrNoBase))
}

func TestRun_SkippedStagesLoadCheckpoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline().Run(ctx, model.RunOptions{Stages: []int{StageBase, StageKeyed, StageNonKeyed}})
	require.NoError(t, err)
	assert.True(t, h.ckpt.Exists(extract.CheckpointName("irs_bmf")))
	assert.True(t, h.ckpt.Exists(extract.CheckpointName("propublica")))
	assert.True(t, h.ckpt.Exists(extract.CheckpointName("va_facilities")))

	res, err := h.pipeline().Run(ctx, model.RunOptions{Stages: []int{StageMerge, StageDedup, StageOutput}})
	require.NoError(t, err)

	assert.Equal(t, 1, h.src.base.calls)
	assert.Equal(t, 1, h.src.keyed[0].calls)
	assert.Equal(t, 1, h.src.nonKeyed[0].calls)
	require.Len(t, res.Records, 5)

	require.Len(t, res.Phases, 6)
	assert.Equal(t, model.PhaseStatusSkipped, res.Phases[0].Status)
	assert.Equal(t, model.PhaseStatusComplete, res.Phases[3].Status)
}

func TestRun_MissingKeyedCheckpointIsEmpty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline().Run(ctx, model.RunOptions{Stages: []int{StageBase}})
	require.NoError(t, err)

	res, err := h.pipeline().Run(ctx, model.RunOptions{Stages: []int{StageMerge, StageOutput}})
	require.NoError(t, err)
	assert.Len(t, res.Records, 3)
	assert.Zero(t, h.src.keyed[0].calls)
}

func TestRun_SkippedMergePassesBase(t *testing.T) {
	h := newHarness(t)

	res, err := h.pipeline().Run(context.Background(), model.RunOptions{
		Stages: []int{StageBase, StageNonKeyed, StageDedup, StageOutput},
	})
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"American Legion Post 5", "VFW Post 1", "Texas Veterans Fund"},
		names(res.Records))
}

func TestRun_ResumeUsesCheckpoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.pipeline().Run(ctx, model.RunOptions{})
	require.NoError(t, err)
	res, err := h.pipeline().Run(ctx, model.RunOptions{Resume: true})
	require.NoError(t, err)

	assert.Equal(t, 1, h.src.base.calls)
	assert.Equal(t, 1, h.src.keyed[0].calls)
	assert.Len(t, res.Records, 5)
}

func TestRun_CleanClearsCheckpoints(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ckpt.Save("stale", map[string]int{"n": 1}))

	_, err := h.pipeline().Run(context.Background(), model.RunOptions{Stages: []int{StageBase}, Clean: true})
	require.NoError(t, err)

	assert.False(t, h.ckpt.Exists("stale"))
	assert.True(t, h.ckpt.Exists(extract.CheckpointName("irs_bmf")))
}

func TestRun_FailingSourceIsLeftOut(t *testing.T) {
	h := newHarness(t)
	h.src.keyed[0].err = errors.New("HTTP 503")

	res, err := h.pipeline().Run(context.Background(), model.RunOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Records, 5)
	assert.False(t, h.ckpt.Exists(extract.CheckpointName("propublica")))
	for _, r := range res.Records {
		assert.NotContains(t, r.Sources, "propublica")
	}
}

func TestRun_Sink(t *testing.T) {
	h := newHarness(t)

	var got int
	p := h.pipeline().WithSink(func(_ context.Context, records model.Batch) (int64, error) {
		got = len(records)
		return int64(len(records)), nil
	})
	res, err := p.Run(context.Background(), model.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, got)
	assert.EqualValues(t, 5, res.Phases[5].Metadata["sink_rows"])
}

func TestRun_SinkFailureKeepsFiles(t *testing.T) {
	h := newHarness(t)

	p := h.pipeline().WithSink(func(context.Context, model.Batch) (int64, error) {
		return 0, errors.New("connection refused")
	})
	res, err := p.Run(context.Background(), model.RunOptions{})
	require.NoError(t, err)
	assert.FileExists(t, res.Files.CSV)
	assert.Equal(t, "connection refused", res.Phases[5].Metadata["sink_error"])
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.pipeline().Run(ctx, model.RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.src.base.calls)

	_, statErr := os.Stat(filepath.Join(h.cfg.Output.Dir, "directory.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_WithoutStore(t *testing.T) {
	h := newHarness(t)
	p := New(h.cfg, h.src, h.ckpt, nil)

	res, err := p.Run(context.Background(), model.RunOptions{Stages: []int{StageBase, StageOutput}})
	require.NoError(t, err)
	assert.Empty(t, res.RunID)
	assert.Len(t, res.Records, 3)
}

func TestEINs(t *testing.T) {
	b := model.Batch{
		model.RecordFrom(map[string]any{"ein": "12-3456789"}),
		model.RecordFrom(map[string]any{"ein": "123456789"}),
		model.RecordFrom(map[string]any{"org_name": "No EIN"}),
		model.RecordFrom(map[string]any{"ein": " 987654321 "}),
	}
	assert.Equal(t, []string{"12-3456789", "987654321"}, EINs(b))
	assert.Empty(t, EINs(nil))
}

func TestFilterState(t *testing.T) {
	b := model.Batch{
		model.RecordFrom(map[string]any{"org_name": "A", "state": "KY"}),
		model.RecordFrom(map[string]any{"org_name": "B", "state": "ky"}),
		model.RecordFrom(map[string]any{"org_name": "C", "state": "TX"}),
		model.RecordFrom(map[string]any{"org_name": "D"}),
	}
	assert.Equal(t, []string{"A", "B"}, names(FilterState(b, "Ky")))
	assert.Empty(t, FilterState(b, "CA"))
}

func TestParseStages(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "", want: AllStages()},
		{in: "  ", want: AllStages()},
		{in: "1", want: []int{1}},
		{in: "5,4, 4,6", want: []int{4, 5, 6}},
		{in: "1,,2", want: []int{1, 2}},
		{in: "0", wantErr: true},
		{in: "7", wantErr: true},
		{in: "one", wantErr: true},
		{in: ",", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStages(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStageName(t *testing.T) {
	assert.Equal(t, "1_base", StageName(StageBase))
	assert.Equal(t, "6_output", StageName(StageOutput))
	assert.Empty(t, StageName(9))
}
