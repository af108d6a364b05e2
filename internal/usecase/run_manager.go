package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrRunNotFound   = errors.New("run not found")
	ErrRunInProgress = errors.New("run is already in progress")
)

const (
	StatusRunning      = "running"
	StatusCompleted    = "completed"
	StatusAborted      = "aborted"
	StatusFailed       = "failed"
	StatusCheckpointed = "checkpointed"
)

// RunManager starts pipeline runs in the background and reports their status.
type RunManager interface {
	// Submit starts a run for seed. A non-empty runID resumes that run from its
	// checkpoints; seed may then be empty.
	Submit(ctx context.Context, runID string, seed entity.RunSeed) (string, error)
	GetStatus(ctx context.Context, runID string) (*entity.RunStatus, error)
	// Wait blocks until every submitted run has finished.
	Wait()
}

type runManagerUseCase struct {
	pipeline    *Pipeline
	checkpoints repository.CheckpointRepository
	baseCtx     context.Context
	logger      *zap.Logger

	mu     sync.RWMutex
	status map[string]*entity.RunStatus
	wg     sync.WaitGroup
}

// NewRunManager creates a RunManager. Runs inherit baseCtx, so cancelling it
// aborts every run in flight (each still exports its partial results).
func NewRunManager(baseCtx context.Context, pipeline *Pipeline, checkpoints repository.CheckpointRepository, logger *zap.Logger) RunManager {
	uc := &runManagerUseCase{
		checkpoints: checkpoints,
		baseCtx:     baseCtx,
		logger:      logger.With(zap.String("component", "run_manager")),
		status:      make(map[string]*entity.RunStatus),
	}
	uc.pipeline = pipeline.WithStageHook(uc.stageCompleted)
	return uc
}

// stageCompleted keeps the status of a run in flight current.
func (uc *runManagerUseCase) stageCompleted(runID string, stage entity.Stage) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if st, ok := uc.status[runID]; ok {
		st.Stage = stage
	}
}

func (uc *runManagerUseCase) Submit(ctx context.Context, runID string, seed entity.RunSeed) (string, error) {
	if runID == "" {
		if seed.Empty() {
			return "", fmt.Errorf("%w: a run needs targets or business names", entity.ErrConfiguration)
		}
		runID = uuid.NewString()
	}

	uc.mu.Lock()
	if st, ok := uc.status[runID]; ok && st.CurrentStatus == StatusRunning {
		uc.mu.Unlock()
		return runID, ErrRunInProgress
	}
	now := time.Now().UTC()
	uc.status[runID] = &entity.RunStatus{RunID: runID, CurrentStatus: StatusRunning, StartedAt: &now}
	uc.mu.Unlock()

	run := entity.NewPipelineRun(runID, seed)
	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		uc.execute(run)
	}()

	uc.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.Int("targets", len(seed.Targets)),
		zap.Int("names", len(seed.Names)),
	)
	return runID, nil
}

func (uc *runManagerUseCase) execute(run *entity.PipelineRun) {
	result, err := uc.pipeline.Run(uc.baseCtx, run)

	uc.mu.Lock()
	defer uc.mu.Unlock()
	st := uc.status[run.ID]
	finished := time.Now().UTC()
	st.FinishedAt = &finished
	st.Stage = run.Completed
	if result != nil {
		st.Report = result.Report
	}

	switch {
	case errors.Is(err, entity.ErrRunAborted):
		st.CurrentStatus = StatusAborted
		st.FailureReason = err.Error()
	case err != nil:
		st.CurrentStatus = StatusFailed
		st.FailureReason = err.Error()
	case result.Stopped:
		st.CurrentStatus = StatusCheckpointed
	default:
		st.CurrentStatus = StatusCompleted
	}
	if err != nil {
		uc.logger.Error("run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (uc *runManagerUseCase) GetStatus(ctx context.Context, runID string) (*entity.RunStatus, error) {
	uc.mu.RLock()
	st, ok := uc.status[runID]
	if ok {
		out := *st
		uc.mu.RUnlock()
		return &out, nil
	}
	uc.mu.RUnlock()

	// Runs from a previous process are only known through their checkpoints.
	if uc.checkpoints != nil {
		for i := len(entity.Stages) - 1; i >= 0; i-- {
			cp, err := uc.checkpoints.Load(ctx, runID, entity.Stages[i])
			if errors.Is(err, entity.ErrCheckpointNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return &entity.RunStatus{
				RunID:         runID,
				CurrentStatus: StatusCheckpointed,
				Stage:         cp.Stage,
			}, nil
		}
	}
	return nil, ErrRunNotFound
}

func (uc *runManagerUseCase) Wait() {
	uc.wg.Wait()
}
