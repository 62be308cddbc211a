package model

import "time"

// JobStatus is the lifecycle state of a pipeline job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Stage labels recorded in Job.Step.
const (
	StepSanityChecks = "sanity_checks"
	StepBridge       = "bridge"
	StepSwap         = "swap"
	StepLiquidity    = "liquidity"
	StepWithdraw     = "withdraw"
	StepRebridge     = "rebridge"
	StepCompleted    = "completed"
	StepError        = "error"
)

// Job tracks one pipeline execution. A job with status completed is never
// re-executed; re-running the pipeline with the same id is a no-op.
type Job struct {
	ID        string         `json:"id"`
	Status    JobStatus      `json:"status"`
	Step      string         `json:"step"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// JobPatch is a partial update applied to a stored job. Nil fields are left
// untouched; Meta entries are merged into the existing metadata key by key.
type JobPatch struct {
	Status *JobStatus
	Step   *string
	Meta   map[string]any
}

// StageResults returns the per-stage result map stored under metadata,
// creating nothing. Missing or malformed entries read as absent.
func (j *Job) StageResults() map[string]any {
	if j == nil || j.Metadata == nil {
		return nil
	}
	stages, ok := j.Metadata["stages"].(map[string]any)
	if !ok {
		return nil
	}
	return stages
}

// StageDone reports whether the named stage has a recorded result.
func (j *Job) StageDone(name string) bool {
	stages := j.StageResults()
	if stages == nil {
		return false
	}
	_, ok := stages[name]
	return ok
}
