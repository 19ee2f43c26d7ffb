package store_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/stager/internal/models"
	"github.com/xhad/stager/pkg/stages"
	"github.com/xhad/stager/pkg/store"
)

const testDim = 3

// getTestConfig skips the test unless a database with pgvector is available.
func getTestConfig(t *testing.T) store.StageStoreConfig {
	t.Helper()
	url := os.Getenv("STAGER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STAGER_TEST_DATABASE_URL not set")
	}
	return store.StageStoreConfig{
		ConnString: url,
		TableName:  "test_stages",
		VectorDim:  testDim,
		Probes:     100,
	}
}

func testRun() models.Run {
	input := []stages.Stage{
		{ID: stages.StageID(0), Index: 0, Content: "first part", UnitCount: 3, Status: stages.StatusPending},
		{ID: stages.StageID(1), Index: 1, Content: "second part", UnitCount: 4, Status: stages.StatusPending},
	}
	summaries := stages.Run(context.Background(), input, func(ctx context.Context, content string, index, total int) (string, error) {
		if index == 1 {
			return "", errors.New("model unavailable")
		}
		return "summary of " + content, nil
	}, stages.ExecutorConfig{})

	run := store.RunFromResult(models.Document{
		ID:       "doc-1",
		URL:      "https://example.com/1",
		Title:    "Test Document 1",
		Metadata: map[string]interface{}{"source": "test"},
	}, summaries)

	vectors := stages.Run(context.Background(), input, func(ctx context.Context, content string, index, total int) ([]float32, error) {
		return []float32{float32(index), 1, 0}, nil
	}, stages.ExecutorConfig{})
	store.AttachEmbeddings(&run, vectors)
	return run
}

func TestRunFromResult(t *testing.T) {
	run := testRun()

	assert.Empty(t, run.ID)
	assert.Equal(t, 7, run.TotalUnits)
	assert.False(t, run.IsComplete)
	assert.Equal(t, []string{"summary of first part", ""}, run.Results)
	assert.Equal(t, stages.StatusError, run.Stages[1].Status)
	assert.Equal(t, [][]float32{{0, 1, 0}, {1, 1, 0}}, run.Embeddings)
}

func TestInvalidConfig(t *testing.T) {
	_, err := store.NewWithConfig(context.Background(), store.StageStoreConfig{TableName: "stages; DROP TABLE x"})
	assert.ErrorContains(t, err, "invalid table name")

	_, err = store.NewWithConfig(context.Background(), store.StageStoreConfig{VectorDim: -1})
	assert.Error(t, err)

	_, err = store.NewWithConfig(context.Background(), store.StageStoreConfig{Probes: 101})
	assert.ErrorContains(t, err, "probes")
}

func TestStageStore(t *testing.T) {
	config := getTestConfig(t)
	ctx := context.Background()

	s, err := store.NewWithConfig(ctx, config)
	require.NoError(t, err)
	defer s.Close()

	pool, err := pgxpool.New(ctx, config.ConnString)
	require.NoError(t, err)
	defer pool.Close()
	var indexed bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = $1)",
		config.TableName+"_embedding_idx").Scan(&indexed))
	assert.True(t, indexed)

	run := testRun()
	require.NoError(t, s.SaveRun(ctx, &run))
	require.NotEmpty(t, run.ID)

	loaded, err := s.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Document.URL, loaded.Document.URL)
	assert.Equal(t, run.TotalUnits, loaded.TotalUnits)
	assert.False(t, loaded.IsComplete)
	require.Len(t, loaded.Stages, 2)
	assert.Equal(t, "stage_1", loaded.Stages[1].ID)
	assert.Equal(t, stages.StatusError, loaded.Stages[1].Status)
	assert.Equal(t, "model unavailable", loaded.Stages[1].ErrorMessage)
	assert.Equal(t, run.Results, loaded.Results)

	matches, err := s.Similar(ctx, []float32{1, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "second part", matches[0].Stage.Content)
	assert.InDelta(t, 0, matches[0].Distance, 1e-6)

	_, err = s.LoadRun(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrRunNotFound)

	bad := testRun()
	bad.Embeddings[0] = []float32{1}
	assert.Error(t, s.SaveRun(ctx, &bad))
}
