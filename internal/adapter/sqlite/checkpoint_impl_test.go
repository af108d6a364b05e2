package sqlite

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bizscraper/internal/entity"
)

func newTestRepo(t *testing.T) (*CheckpointRepoImpl, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	repo, err := NewCheckpointRepo(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, path
}

// TestCheckpointRepo_SaveLoad verifies checkpoints round trip and replace per stage
func TestCheckpointRepo_SaveLoad(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.Load(t.Context(), "run-1", entity.StageNames)
	assert.ErrorIs(t, err, entity.ErrCheckpointNotFound)

	rec := entity.NewBusinessRecord("Acme Corp", "https://dir.example", "Springfield")
	seed := entity.RunSeed{Targets: []entity.SeedTarget{{URL: "https://dir.example"}}}
	require.NoError(t, repo.Save(t.Context(), &entity.Checkpoint{RunID: "run-1", Stage: entity.StageNames, Seed: seed, Records: []entity.BusinessRecord{*rec}}))

	rec.SetWebsite("https://acme.example")
	require.NoError(t, repo.Save(t.Context(), &entity.Checkpoint{RunID: "run-1", Stage: entity.StageNames, Seed: seed, Records: []entity.BusinessRecord{*rec}}))

	got, err := repo.Load(t.Context(), "run-1", entity.StageNames)
	require.NoError(t, err)
	assert.Equal(t, seed, got.Seed)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "https://acme.example", got.Records[0].Website)
	assert.Equal(t, "Springfield", got.Records[0].Location)

	_, err = repo.Load(t.Context(), "run-1", entity.StageURLs)
	assert.ErrorIs(t, err, entity.ErrCheckpointNotFound)
}

// TestCheckpointRepo_SurvivesReopen verifies a restarted process sees earlier checkpoints
func TestCheckpointRepo_SurvivesReopen(t *testing.T) {
	repo, path := newTestRepo(t)
	require.NoError(t, repo.Save(t.Context(), &entity.Checkpoint{RunID: "run-1", Stage: entity.StageURLs, CreatedAt: time.Now().UTC()}))
	require.NoError(t, repo.Close())

	reopened, err := NewCheckpointRepo(path)
	require.NoError(t, err)
	defer reopened.Close()

	cp, err := reopened.Load(t.Context(), "run-1", entity.StageURLs)
	require.NoError(t, err)
	assert.Equal(t, entity.StageURLs, cp.Stage)
}

// TestCheckpointRepo_ConcurrentSaves verifies parallel writers do not fail
func TestCheckpointRepo_ConcurrentSaves(t *testing.T) {
	repo, _ := newTestRepo(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runID := "run-" + string(rune('a'+i))
			assert.NoError(t, repo.Save(t.Context(), &entity.Checkpoint{RunID: runID, Stage: entity.StageNames}))
		}()
	}
	wg.Wait()

	runs, err := repo.Runs(t.Context())
	require.NoError(t, err)
	assert.Len(t, runs, 10)
}
