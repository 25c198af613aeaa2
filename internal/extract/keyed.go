package extract

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/checkpoint"
	"github.com/sells-group/org-directory/internal/resilience"
)

// DefaultInterval is how many keys are processed between partial saves.
const DefaultInterval = 100

// Partial is the resumable state of a keyed loop: results gathered so far
// and every key already attempted, successful or not.
type Partial[T any] struct {
	Results []T      `json:"results"`
	Done    []string `json:"done"`
}

// Stats counts what one Run did.
type Stats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Skipped counts keys already done by an earlier, interrupted run.
	Skipped int `json:"skipped"`
	// Done is the size of the processed-key set when Run returned,
	// earlier runs included.
	Done int `json:"done"`
}

// PartialName is the partial-progress checkpoint for a source.
func PartialName(source string) string { return source + "_partial" }

// KeyedLoop fetches one item per key with periodic partial checkpoints, so
// an interrupted run resumes where it stopped and a resumed run ends with
// the same results as an uninterrupted one.
type KeyedLoop[T any] struct {
	Source   string
	Store    *checkpoint.Store
	Interval int
}

// Run fetches every key not already done. A failed fetch is logged and its
// key marked done without a result; it is not retried in this run. When ctx
// is cancelled or the source's circuit opens, progress is saved and an
// error returned with the current key still pending. On normal completion
// the partial checkpoint is removed.
func (l *KeyedLoop[T]) Run(ctx context.Context, keys []string, fetch func(ctx context.Context, key string) resilience.Result[T]) ([]T, Stats, error) {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log := zap.L().With(zap.String("component", "extract"), zap.String("source", l.Source))
	name := PartialName(l.Source)

	var state Partial[T]
	if l.Store.Load(name, &state) {
		log.Info("resuming keyed loop", zap.Int("done", len(state.Done)), zap.Int("results", len(state.Results)))
	}
	done := make(map[string]struct{}, len(state.Done))
	for _, k := range state.Done {
		done[k] = struct{}{}
	}

	save := func() error {
		if err := l.Store.Save(name, state); err != nil {
			return eris.Wrapf(err, "extract: save partial %s", l.Source)
		}
		return nil
	}

	var stats Stats
	sinceSave := 0
	for _, key := range keys {
		if _, ok := done[key]; ok {
			stats.Skipped++
			continue
		}
		if ctx.Err() != nil {
			stats.Done = len(state.Done)
			if err := save(); err != nil {
				return nil, stats, err
			}
			return nil, stats, eris.Wrapf(ctx.Err(), "extract: %s interrupted", l.Source)
		}

		res := fetch(ctx, key)
		if res.Kind == resilience.KindUnavailable {
			stats.Done = len(state.Done)
			if err := save(); err != nil {
				return nil, stats, err
			}
			log.Warn("source unavailable, stopping keyed loop",
				zap.String("key", key),
				zap.Int("done", len(state.Done)),
				zap.Int("total", len(keys)),
			)
			return nil, stats, eris.Wrapf(res.Err, "extract: %s unavailable", l.Source)
		}
		if res.Kind == resilience.KindInternal || (!res.OK() && ctx.Err() != nil) {
			// Interrupted mid-fetch: leave the key for the next run.
			stats.Done = len(state.Done)
			if err := save(); err != nil {
				return nil, stats, err
			}
			return nil, stats, eris.Wrapf(res.Err, "extract: %s interrupted", l.Source)
		}

		stats.Processed++
		if res.OK() {
			stats.Succeeded++
			state.Results = append(state.Results, res.Value)
		} else {
			stats.Failed++
			log.Warn("fetch failed, skipping key",
				zap.String("key", key),
				zap.Stringer("kind", res.Kind),
				zap.Error(res.Err),
			)
		}
		done[key] = struct{}{}
		state.Done = append(state.Done, key)

		sinceSave++
		if sinceSave >= interval {
			sinceSave = 0
			if err := save(); err != nil {
				return nil, stats, err
			}
			log.Info("keyed loop progress", zap.Int("done", len(done)), zap.Int("total", len(keys)))
		}
	}

	stats.Done = len(state.Done)
	if err := l.Store.Clear(name); err != nil {
		log.Warn("failed to clear partial checkpoint", zap.Error(err))
	}
	log.Info("keyed loop complete",
		zap.Int("processed", stats.Processed),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
	)
	return state.Results, stats, nil
}
