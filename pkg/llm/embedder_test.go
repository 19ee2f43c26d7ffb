package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/stager/pkg/llm"
	"github.com/xhad/stager/pkg/queue"
	"github.com/xhad/stager/pkg/stages"
)

type fakeEmbedder struct {
	fail  bool
	short bool
}

func (f fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("model not found")
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, []float32{float32(len(text)), 1})
	}
	if f.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

var config = llm.EmbedderConfig{
	Model:   "nomic-embed-text:latest",
	BaseURL: "http://localhost:11434",
}

func TestNewEmbedderWithConfig(t *testing.T) {
	q := queue.New(queue.Config{})
	defer q.Close()

	emb, err := llm.NewEmbedderWithConfig(config, q)
	require.NoError(t, err)
	assert.NotNil(t, emb)
}

func TestEmbed(t *testing.T) {
	q := queue.New(queue.Config{})
	defer q.Close()

	emb := llm.NewEmbedderWithClient(config, fakeEmbedder{}, q)
	vectors, err := emb.Embed(context.Background(), []string{"abc", "de"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}, {2, 1}}, vectors)

	emb = llm.NewEmbedderWithClient(config, fakeEmbedder{short: true}, q)
	_, err = emb.Embed(context.Background(), []string{"abc", "de"})
	assert.ErrorContains(t, err, "count mismatch")
}

func TestEmbedderStageProcessor(t *testing.T) {
	q := queue.New(queue.Config{})
	defer q.Close()

	input := []stages.Stage{
		{ID: stages.StageID(0), Index: 0, Content: "four", Status: stages.StatusPending},
		{ID: stages.StageID(1), Index: 1, Content: "sixsix", Status: stages.StatusPending},
	}

	emb := llm.NewEmbedderWithClient(config, fakeEmbedder{}, q)
	result := stages.Run(context.Background(), input, emb.StageProcessor(), stages.ExecutorConfig{})
	assert.True(t, result.IsComplete)
	assert.Equal(t, [][]float32{{4, 1}, {6, 1}}, result.CombinedResults)

	emb = llm.NewEmbedderWithClient(config, fakeEmbedder{fail: true}, q)
	result = stages.Run(context.Background(), input, emb.StageProcessor(), stages.ExecutorConfig{})
	assert.False(t, result.IsComplete)
	assert.Len(t, result.Failed(), 2)
	assert.Empty(t, result.CombinedResults)
}
