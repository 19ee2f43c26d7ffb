package stages_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/stager/pkg/stages"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func makeStages(contents ...string) []stages.Stage {
	out := make([]stages.Stage, len(contents))
	for i, c := range contents {
		out[i] = stages.Stage{
			ID:        stages.StageID(i),
			Index:     i,
			Content:   c,
			UnitCount: len(c),
			Status:    stages.StatusPending,
		}
	}
	return out
}

func upper(_ context.Context, content string, _, _ int) (string, error) {
	return strings.ToUpper(content), nil
}

func TestRunAllSucceed(t *testing.T) {
	input := makeStages("alpha", "beta", "gamma")

	res := stages.Run(context.Background(), input, upper, stages.ExecutorConfig{})

	assert.True(t, res.IsComplete)
	assert.Equal(t, []string{"ALPHA", "BETA", "GAMMA"}, res.CombinedResults)
	assert.Equal(t, 14, res.TotalUnits)
	for i, s := range res.Stages {
		assert.Equal(t, stages.StatusCompleted, s.Status)
		out, ok := res.StageResult(i)
		assert.True(t, ok)
		assert.Equal(t, strings.ToUpper(input[i].Content), out)
	}

	// the caller's slice is left as the chunker produced it
	for _, s := range input {
		assert.Equal(t, stages.StatusPending, s.Status)
	}
}

func TestRunContinuesPastFailure(t *testing.T) {
	input := makeStages("a", "b", "c", "d")
	failing := func(_ context.Context, content string, index, _ int) (int, error) {
		if index == 2 {
			return 0, errors.New("upstream rejected request")
		}
		return index * 10, nil
	}

	core, logs := observer.New(zap.WarnLevel)
	res := stages.Run(context.Background(), input, failing, stages.ExecutorConfig{Logger: zap.New(core)})

	assert.False(t, res.IsComplete)
	assert.Len(t, res.CombinedResults, len(input)-1)
	assert.Equal(t, []int{0, 10, 30}, res.CombinedResults)
	assert.Equal(t, stages.StatusError, res.Stages[2].Status)
	assert.Equal(t, "upstream rejected request", res.Stages[2].ErrorMessage)
	assert.Equal(t, stages.StatusCompleted, res.Stages[3].Status)

	_, ok := res.StageResult(2)
	assert.False(t, ok)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "stage_2", failed[0].ID)

	entries := logs.FilterMessage("stage failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "stage_2", entries[0].ContextMap()["stage_id"])
}

func TestRunSequentialOrder(t *testing.T) {
	input := makeStages("1", "2", "3", "4", "5")
	var order []int
	inFlight := 0

	process := func(_ context.Context, _ string, index, total int) (struct{}, error) {
		inFlight++
		defer func() { inFlight-- }()
		if inFlight != 1 {
			return struct{}{}, fmt.Errorf("%d stages in flight", inFlight)
		}
		assert.Equal(t, 5, total)
		order = append(order, index)
		time.Sleep(time.Millisecond)
		return struct{}{}, nil
	}

	res := stages.Run(context.Background(), input, process, stages.ExecutorConfig{})
	assert.True(t, res.IsComplete)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestRunProgress(t *testing.T) {
	input := makeStages("a", "b")
	type call struct {
		completed, total int
		id               string
		status           stages.Status
	}
	var calls []call

	cfg := stages.ExecutorConfig{
		OnProgress: func(completed, total int, current *stages.Stage) {
			require.NotNil(t, current)
			calls = append(calls, call{completed, total, current.ID, current.Status})
		},
	}
	res := stages.Run(context.Background(), input, upper, cfg)
	require.True(t, res.IsComplete)

	assert.Equal(t, []call{
		{0, 2, "stage_0", stages.StatusProcessing},
		{1, 2, "stage_0", stages.StatusCompleted},
		{1, 2, "stage_1", stages.StatusProcessing},
		{2, 2, "stage_1", stages.StatusCompleted},
	}, calls)
}

func TestRunRecoversPanic(t *testing.T) {
	input := makeStages("a", "b")
	process := func(_ context.Context, content string, index, _ int) (string, error) {
		if index == 0 {
			panic("boom")
		}
		return content, nil
	}

	res := stages.Run(context.Background(), input, process, stages.ExecutorConfig{})
	assert.Equal(t, stages.StatusError, res.Stages[0].Status)
	assert.Contains(t, res.Stages[0].ErrorMessage, "boom")
	assert.Equal(t, []string{"b"}, res.CombinedResults)
}

func TestRunStageTimeout(t *testing.T) {
	input := makeStages("slow", "fast")
	process := func(ctx context.Context, content string, index, _ int) (string, error) {
		if index == 0 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return content, nil
	}

	res := stages.Run(context.Background(), input, process, stages.ExecutorConfig{StageTimeout: 20 * time.Millisecond})
	assert.Equal(t, stages.StatusError, res.Stages[0].Status)
	assert.Contains(t, res.Stages[0].ErrorMessage, context.DeadlineExceeded.Error())
	assert.Equal(t, stages.StatusCompleted, res.Stages[1].Status)
}

func TestRunCancelledContext(t *testing.T) {
	input := makeStages("a", "b", "c")
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	process := func(_ context.Context, content string, _, _ int) (string, error) {
		calls++
		cancel()
		return content, nil
	}

	res := stages.Run(ctx, input, process, stages.ExecutorConfig{})
	assert.Equal(t, 1, calls)
	assert.Equal(t, stages.StatusCompleted, res.Stages[0].Status)
	for _, s := range res.Stages[1:] {
		assert.Equal(t, stages.StatusError, s.Status)
		assert.Contains(t, s.ErrorMessage, "not started")
	}
	assert.False(t, res.IsComplete)
}

func TestRunEmpty(t *testing.T) {
	res := stages.Run(context.Background(), nil, upper, stages.ExecutorConfig{})
	assert.Empty(t, res.Stages)
	assert.Empty(t, res.CombinedResults)
	assert.True(t, res.IsComplete)
	assert.Equal(t, 0, res.TotalUnits)
}
