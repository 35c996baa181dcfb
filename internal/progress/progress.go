// Package progress tracks how far an ingestion run has got, for pollers.
package progress

import "sync"

// Stage labels reported during a run.
const (
	StageIdle     = "idle"
	StageFetching = "fetching"
	StageFilter   = "filtering"
	StageScoring  = "scoring"
	StageJudging  = "judging"
	StageSaving   = "saving"
	StageDone     = "done"
)

// Snapshot is a point-in-time copy of the run progress.
type Snapshot struct {
	Total int    `json:"total"`
	Done  int    `json:"done"`
	Stage string `json:"stage"`
}

// Reporter is a mutex-guarded progress counter shared between the pipeline
// and any number of readers. The zero value is ready to use.
type Reporter struct {
	mu    sync.Mutex
	total int
	done  int
	stage string
}

// New returns a reporter in the idle stage.
func New() *Reporter {
	return &Reporter{stage: StageIdle}
}

// Start enters a stage with the given total and resets done.
func (r *Reporter) Start(stage string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = stage
	r.total = total
	r.done = 0
}

// Inc advances done by one, never past total.
func (r *Reporter) Inc() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done < r.total {
		r.done++
	}
}

// Finish marks the run complete.
func (r *Reporter) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = StageDone
	r.done = r.total
}

// Snapshot returns the current progress.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	stage := r.stage
	if stage == "" {
		stage = StageIdle
	}
	return Snapshot{Total: r.total, Done: r.done, Stage: stage}
}

