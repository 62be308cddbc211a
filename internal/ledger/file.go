package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"liquidityPilot/internal/model"
)

// FileLedger stores jobs in a single JSON file, written atomically via a
// temp file and rename. It serves setups without a database.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger builds a FileLedger at path. The file is created on first
// write.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Get implements Ledger.
func (l *FileLedger) Get(ctx context.Context, id string) (*model.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	jobs, err := l.load()
	if err != nil {
		return nil, err
	}
	job, ok := jobs[id]
	if !ok {
		return nil, nil
	}
	return job, nil
}

// Create implements Ledger.
func (l *FileLedger) Create(ctx context.Context, job *model.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	jobs, err := l.load()
	if err != nil {
		return err
	}
	if _, ok := jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	jobs[job.ID] = job
	return l.save(jobs)
}

// Update implements Ledger. Nil patch fields are left untouched; Meta
// entries are merged key by key.
func (l *FileLedger) Update(ctx context.Context, id string, patch model.JobPatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	jobs, err := l.load()
	if err != nil {
		return err
	}
	job, ok := jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	applyPatch(job, patch)
	return l.save(jobs)
}

func applyPatch(job *model.Job, patch model.JobPatch) {
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Step != nil {
		job.Step = *patch.Step
	}
	if len(patch.Meta) > 0 {
		if job.Metadata == nil {
			job.Metadata = make(map[string]any, len(patch.Meta))
		}
		MergeMeta(job.Metadata, patch.Meta)
	}
	job.UpdatedAt = time.Now().UTC()
}

// MergeMeta merges src into dst, descending into nested maps so per-stage
// results accumulate instead of clobbering each other.
func MergeMeta(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			MergeMeta(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}

func (l *FileLedger) load() (map[string]*model.Job, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]*model.Job), nil
		}
		return nil, fmt.Errorf("read job ledger: %w", err)
	}
	jobs := make(map[string]*model.Job)
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse job ledger: %w", err)
	}
	return jobs, nil
}

func (l *FileLedger) save(jobs map[string]*model.Job) error {
	dir := filepath.Dir(l.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job ledger: %w", err)
	}
	tmpPath := l.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write job ledger tmp: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("rename job ledger: %w", err)
	}
	return nil
}
