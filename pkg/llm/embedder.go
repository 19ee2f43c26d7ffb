package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/stager/pkg/queue"
	"github.com/xhad/stager/pkg/stages"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Model   string
	BaseURL string // Ollama server URL
}

// EmbeddingClient is satisfied by *ollama.LLM.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type Embedder struct {
	config EmbedderConfig
	client EmbeddingClient
	queue  *queue.Queue
}

func NewEmbedderWithConfig(config EmbedderConfig, q *queue.Queue) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{config: config, client: emb, queue: q}, nil
}

func NewEmbedderWithClient(config EmbedderConfig, client EmbeddingClient, q *queue.Queue) *Embedder {
	return &Embedder{config: config, client: client, queue: q}
}

// Embed returns one vector per text, queued behind any other calls to the
// same server.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return queue.Do(ctx, e.queue, func(ctx context.Context) ([][]float32, error) {
		vectors, err := e.client.CreateEmbedding(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings: %w", err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(vectors), len(texts))
		}
		return vectors, nil
	})
}

func (e *Embedder) StageProcessor() stages.ProcessFunc[[]float32] {
	return func(ctx context.Context, content string, _, _ int) ([]float32, error) {
		vectors, err := e.Embed(ctx, []string{content})
		if err != nil {
			return nil, err
		}
		return vectors[0], nil
	}
}
