package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/stager/internal/models"
	"github.com/xhad/stager/pkg/limits"
	"github.com/xhad/stager/pkg/queue"
	"github.com/xhad/stager/pkg/stages"
)

var ErrPromptTooLarge = errors.New("prompt exceeds limits")

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	// StageTemplate is formatted with the stage number, the stage count,
	// the running summary of earlier stages and the stage content.
	StageTemplate string
	// AnswerTemplate replaces SystemTemplate when answering from stored
	// results. ContextTemplate is formatted with the sources and the question.
	AnswerTemplate  string
	ContextTemplate string
	BaseURL         string // Ollama server URL
	Limits          limits.Limits
}

// ChatEngine sends prompts to the model one at a time through a shared
// queue.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
	queue  *queue.Queue
}

// NewWithConfig creates a ChatEngine backed by an Ollama server.
func NewWithConfig(config ChatConfig, q *queue.Queue) (*ChatEngine, error) {
	config, err := applyDefaults(config)
	if err != nil {
		return nil, err
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{config: config, llm: llm, queue: q}, nil
}

// NewWithModel creates a ChatEngine around an existing model.
func NewWithModel(config ChatConfig, model llms.Model, q *queue.Queue) (*ChatEngine, error) {
	config, err := applyDefaults(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model, queue: q}, nil
}

func applyDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return config, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You summarize long documents part by part. Keep every fact that later parts may depend on."
	}
	if config.StageTemplate == "" {
		config.StageTemplate = "Part %d of %d.\n\nSummary of the previous parts:\n%s\n\nContent of this part:\n%s"
	}
	if config.AnswerTemplate == "" {
		config.AnswerTemplate = "You are a helpful assistant with access to the following documentation. Answer questions based on this context."
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = "\nRelevant documentation:\n%s\n\nQuestion: %s"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	if config.Limits == (limits.Limits{}) {
		config.Limits = limits.Default()
	}
	if err := config.Limits.Check(); err != nil {
		return config, err
	}
	return config, nil
}

// Complete sends a single prompt and returns the model's text. Prompts over
// the configured limits are rejected before reaching the queue.
func (ce *ChatEngine) Complete(ctx context.Context, prompt string) (string, error) {
	return ce.complete(ctx, ce.config.SystemTemplate, prompt)
}

func (ce *ChatEngine) complete(ctx context.Context, system, prompt string) (string, error) {
	if v := ce.config.Limits.Validate(system + prompt); v.ExceedsLimit {
		return "", fmt.Errorf("%w: %d units, %d chars", ErrPromptTooLarge, v.UnitCount, v.CharCount)
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	return queue.Do(ctx, ce.queue, func(ctx context.Context) (string, error) {
		response, err := ce.llm.GenerateContent(ctx, content,
			llms.WithTemperature(ce.config.Temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
		)
		if err != nil {
			return "", fmt.Errorf("chat error: %w", err)
		}
		if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
			return "", errors.New("chat error: no response from LLM")
		}
		return strings.TrimSpace(response.Choices[0].Content), nil
	})
}

// StageProcessor returns a processing function that summarizes each stage,
// feeding the summary of earlier stages into the next prompt. It keeps state
// across calls, so use one per run.
func (ce *ChatEngine) StageProcessor() stages.ProcessFunc[string] {
	summary := "(none yet)"
	return func(ctx context.Context, content string, index, total int) (string, error) {
		prompt := fmt.Sprintf(ce.config.StageTemplate, index+1, total, summary, content)
		out, err := ce.Complete(ctx, prompt)
		if err != nil {
			return "", err
		}
		summary = out
		return out, nil
	}
}

// Answer responds to question using the stored stage results in matches and
// appends the distinct source URLs for citation.
func (ce *ChatEngine) Answer(ctx context.Context, question string, matches []models.StageMatch) (string, error) {
	if len(matches) == 0 {
		return "", errors.New("no stored results to answer from")
	}

	var contextBuilder strings.Builder
	for _, m := range matches {
		contextBuilder.WriteString(fmt.Sprintf("Source: %s (part %d)\n%s\n\n", m.URL, m.Stage.Index+1, m.Result))
	}

	prompt := fmt.Sprintf(ce.config.ContextTemplate, contextBuilder.String(), question)
	out, err := ce.complete(ctx, ce.config.AnswerTemplate, prompt)
	if err != nil {
		return "", err
	}
	return out + formatSources(matches), nil
}

// formatSources formats the sources for citation.
func formatSources(matches []models.StageMatch) string {
	var sources []string
	seen := make(map[string]bool)

	for _, m := range matches {
		if m.URL != "" && !seen[m.URL] {
			sources = append(sources, m.URL)
			seen[m.URL] = true
		}
	}

	if len(sources) == 0 {
		return ""
	}

	return fmt.Sprintf("\n\nSources:\n%s", strings.Join(sources, "\n"))
}
