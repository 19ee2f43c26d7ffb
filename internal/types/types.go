package types

import (
	"context"

	"github.com/xhad/stager/internal/models"
	"github.com/xhad/stager/pkg/stages"
)

// Summarizer produces a per-run stage processor, e.g. *llm.ChatEngine.
type Summarizer interface {
	StageProcessor() stages.ProcessFunc[string]
}

// StageEmbedder produces a per-run embedding processor, e.g. *llm.Embedder.
type StageEmbedder interface {
	StageProcessor() stages.ProcessFunc[[]float32]
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (models.Document, error)
}

type RunStore interface {
	SaveRun(ctx context.Context, run *models.Run) error
	LoadRun(ctx context.Context, id string) (models.Run, error)
	Similar(ctx context.Context, embedding []float32, limit int) ([]models.StageMatch, error)
	Close()
}
