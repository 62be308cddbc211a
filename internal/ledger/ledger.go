package ledger

import (
	"context"

	"liquidityPilot/internal/model"
)

// Ledger persists pipeline jobs across process restarts. It is the only
// cross-process state in the system: the pipeline consults it at startup to
// skip completed jobs and resume partial ones.
type Ledger interface {
	// Get returns the job, or (nil, nil) when no job has that id.
	Get(ctx context.Context, id string) (*model.Job, error)
	Create(ctx context.Context, job *model.Job) error
	Update(ctx context.Context, id string, patch model.JobPatch) error
}
