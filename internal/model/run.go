package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunOptions are the operator choices a run was started with.
type RunOptions struct {
	Stages []int  `json:"stages,omitempty"`
	State  string `json:"state,omitempty"`
	Resume bool   `json:"resume"`
	Clean  bool   `json:"clean"`
}

// Run is one invocation of the pipeline.
type Run struct {
	ID        string     `json:"id"`
	Options   RunOptions `json:"options"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Records int           `json:"records"`
	Output  string        `json:"output,omitempty"`
	Phases  []PhaseResult `json:"phases"`
	Error   string        `json:"error,omitempty"`
}

// RunPhase is one stage within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline stage.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a stage. Records is the count the stage
// produced; Metadata carries stage-specific counts such as per-tier dedup
// sizes or per-source merge matches.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Records  int            `json:"records"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
