package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
)

// CheckpointRepoImpl keeps checkpoints in process memory. Checkpoints are
// stored serialized so callers never share record state with the store.
type CheckpointRepoImpl struct {
	mu    sync.RWMutex
	saved map[string][]byte
	saves int
}

// NewCheckpointRepo creates an empty in-memory recovery store.
func NewCheckpointRepo() *CheckpointRepoImpl {
	return &CheckpointRepoImpl{saved: make(map[string][]byte)}
}

var _ repository.CheckpointRepository = (*CheckpointRepoImpl)(nil)

func key(runID string, stage entity.Stage) string {
	return runID + "/" + string(stage)
}

func (r *CheckpointRepoImpl) Save(ctx context.Context, cp *entity.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[key(cp.RunID, cp.Stage)] = data
	r.saves++
	return nil
}

func (r *CheckpointRepoImpl) Load(ctx context.Context, runID string, stage entity.Stage) (*entity.Checkpoint, error) {
	r.mu.RLock()
	data, ok := r.saved[key(runID, stage)]
	r.mu.RUnlock()
	if !ok {
		return nil, entity.ErrCheckpointNotFound
	}
	var cp entity.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Saves returns how many checkpoints were written.
func (r *CheckpointRepoImpl) Saves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}
