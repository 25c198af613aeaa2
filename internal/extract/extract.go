// Package extract runs source extractors and turns their raw rows into
// checkpointed canonical batches.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/checkpoint"
	"github.com/sells-group/org-directory/internal/model"
	"github.com/sells-group/org-directory/internal/schema"
)

// Extractor produces raw rows for one source. Rows use canonical field
// names where the source has an equivalent; anything else is dropped by
// coercion.
//
// A source that is unavailable (no API key, outage) returns an empty slice
// and a nil error after logging. A non-nil error means the extraction was
// interrupted or failed in a way that must not be recorded as complete.
type Extractor interface {
	Name() string
	Extract(ctx context.Context) ([]map[string]any, error)
}

// CheckpointName is the completed-batch checkpoint for a source.
func CheckpointName(source string) string { return "extractor_" + source }

// Runner executes extractors with completed-batch checkpointing.
type Runner struct {
	store *checkpoint.Store
	now   func() time.Time
}

// NewRunner returns a Runner persisting to store.
func NewRunner(store *checkpoint.Store) *Runner {
	return &Runner{store: store, now: time.Now}
}

// Run returns the canonical batch for ex. With resume, a valid completed
// checkpoint short-circuits extraction. Otherwise the extractor runs, its
// rows are coerced, tagged with the source name and stamped with today's
// date as data_freshness_date, and the batch is checkpointed before being
// returned.
//
// A failing source yields an empty batch and no checkpoint, so a later
// resume retries it. Errors are returned only for interruption and for
// checkpoint writes.
func (r *Runner) Run(ctx context.Context, ex Extractor, resume bool) (model.Batch, error) {
	name := ex.Name()
	log := zap.L().With(zap.String("component", "extract"), zap.String("source", name))
	ckpt := CheckpointName(name)

	if resume {
		var cached model.Batch
		if r.store.Load(ckpt, &cached) {
			log.Info("resuming from checkpoint", zap.Int("records", len(cached)))
			return cached, nil
		}
	}

	start := r.now()
	log.Info("starting extraction")
	raw, err := ex.Extract(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, eris.Wrapf(err, "extract: %s interrupted", name)
		}
		log.Error("extraction failed, continuing without source", zap.Error(err))
		return model.Batch{}, nil
	}
	log.Info("extracted raw records", zap.Int("records", len(raw)))

	batch := r.finalize(name, schema.Coerce(raw))

	if err := r.store.Save(ckpt, batch); err != nil {
		return nil, eris.Wrapf(err, "extract: checkpoint %s", name)
	}
	log.Info("completed extraction",
		zap.Int("records", len(batch)),
		zap.Duration("elapsed", r.now().Sub(start)),
	)
	return batch, nil
}

func (r *Runner) finalize(source string, batch model.Batch) model.Batch {
	today := r.now().Format(time.DateOnly)
	for i := range batch {
		batch[i].Sources = batch[i].Sources.Add(source)
		batch[i].Set(model.FieldFreshness, today)
	}
	return batch
}
