package monitoring

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/org-directory/internal/model"
	"github.com/sells-group/org-directory/internal/pipeline"
	"github.com/sells-group/org-directory/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Runs created within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	// The two most recent complete runs that wrote output, at any age.
	LastOutputAt    *time.Time `json:"last_output_at,omitempty"`
	LatestRecords   int        `json:"latest_records"`
	PreviousRecords int        `json:"previous_records"`
	// RecordDrop is the fractional fall from PreviousRecords to
	// LatestRecords; zero when the directory grew or there is no previous.
	RecordDrop float64 `json:"record_drop"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run log.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// outputScan bounds how far back Collect looks for runs that wrote output.
const outputScan = 50

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	complete, err := c.store.ListRuns(ctx, store.RunFilter{Status: model.RunStatusComplete, Limit: outputScan})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list complete runs")
	}
	var outputs []model.Run
	for _, r := range complete {
		if wroteOutput(r) {
			outputs = append(outputs, r)
		}
		if len(outputs) == 2 {
			break
		}
	}
	if len(outputs) > 0 {
		at := outputs[0].UpdatedAt
		snap.LastOutputAt = &at
		snap.LatestRecords = outputs[0].Result.Records
	}
	if len(outputs) > 1 {
		snap.PreviousRecords = outputs[1].Result.Records
		if snap.PreviousRecords > 0 && snap.LatestRecords < snap.PreviousRecords {
			snap.RecordDrop = float64(snap.PreviousRecords-snap.LatestRecords) / float64(snap.PreviousRecords)
		}
	}

	return snap, nil
}

// wroteOutput reports whether r ran the output stage over the whole
// country. State-filtered runs are not comparable with full ones.
func wroteOutput(r model.Run) bool {
	if r.Result == nil || r.Options.State != "" {
		return false
	}
	return len(r.Options.Stages) == 0 || slices.Contains(r.Options.Stages, pipeline.StageOutput)
}
