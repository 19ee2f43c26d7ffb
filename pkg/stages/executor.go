package stages

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProcessFunc handles the content of one stage, typically by calling the
// downstream consumer. index is zero-based; total is the stage count.
type ProcessFunc[R any] func(ctx context.Context, content string, index, total int) (R, error)

// ProgressFunc is called before each stage starts and after it settles.
// completed counts settled stages. It must not block for long; it runs on
// the executor's goroutine.
type ProgressFunc func(completed, total int, current *Stage)

type ExecutorConfig struct {
	OnProgress ProgressFunc
	// StageTimeout bounds each ProcessFunc call through its context.
	// Zero means no deadline beyond the caller's context.
	StageTimeout time.Duration
	Logger       *zap.Logger
}

// Run drives stages through process strictly in order: stage i+1 does not
// start before stage i settles. A failing stage is marked StatusError and the
// run continues with the next one; callers that need all-or-nothing
// semantics check IsComplete. Once ctx is done, remaining stages are marked
// failed without being processed.
//
// The input slice is not modified.
func Run[R any](ctx context.Context, input []Stage, process ProcessFunc[R], cfg ExecutorConfig) StagedResult[R] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	total := len(input)
	stages := make([]Stage, total)
	copy(stages, input)

	result := StagedResult[R]{
		Stages:          stages,
		CombinedResults: make([]R, 0, total),
		results:         make([]R, total),
		ok:              make([]bool, total),
	}

	completed := 0
	for i := range stages {
		stage := &stages[i]

		if err := ctx.Err(); err != nil {
			stage.Status = StatusError
			stage.ErrorMessage = fmt.Sprintf("not started: %v", err)
			completed++
			cfg.notify(completed, total, stage)
			continue
		}

		stage.Status = StatusProcessing
		stage.ErrorMessage = ""
		cfg.notify(completed, total, stage)

		started := time.Now()
		out, err := invoke(ctx, process, cfg.StageTimeout, stage.Content, i, total)
		if err != nil {
			stage.Status = StatusError
			stage.ErrorMessage = err.Error()
			logger.Warn("stage failed",
				zap.String("stage_id", stage.ID),
				zap.Int("stage_index", i),
				zap.Int("total", total),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err),
			)
		} else {
			stage.Status = StatusCompleted
			result.results[i] = out
			result.ok[i] = true
			result.CombinedResults = append(result.CombinedResults, out)
			logger.Debug("stage completed",
				zap.String("stage_id", stage.ID),
				zap.Int("stage_index", i),
				zap.Int("total", total),
				zap.Duration("elapsed", time.Since(started)),
			)
		}

		completed++
		cfg.notify(completed, total, stage)
	}

	result.TotalUnits = TotalUnits(stages)
	result.IsComplete = len(result.CombinedResults) == total
	return result
}

func (cfg ExecutorConfig) notify(completed, total int, stage *Stage) {
	if cfg.OnProgress == nil {
		return
	}
	snapshot := *stage
	cfg.OnProgress(completed, total, &snapshot)
}

func invoke[R any](ctx context.Context, process ProcessFunc[R], timeout time.Duration, content string, index, total int) (out R, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %d panicked: %v", index, r)
		}
	}()
	return process(ctx, content, index, total)
}
