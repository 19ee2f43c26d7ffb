package processor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xhad/stager/internal/models"
	"github.com/xhad/stager/pkg/limits"
)

type ProcessorConfig struct {
	Limits limits.Limits
	// TruncateOversized cuts documents that exceed Limits down to a single
	// bounded text instead of splitting them into several stages.
	TruncateOversized bool
	// PreserveWhitespace skips cleanText.
	PreserveWhitespace bool
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) (Processor, error) {
	if config.Limits == (limits.Limits{}) {
		config.Limits = limits.Default()
	}
	if err := config.Limits.Check(); err != nil {
		return Processor{}, fmt.Errorf("processor config: %w", err)
	}
	return Processor{config: config}, nil
}

func (p *Processor) Limits() limits.Limits {
	return p.config.Limits
}

func (p *Processor) Process(docs []models.Document) ([]models.StagedDocument, error) {
	var staged []models.StagedDocument

	for _, doc := range docs {
		content := doc.Content
		if !p.config.PreserveWhitespace {
			content = cleanText(content)
		}

		validation := p.config.Limits.Validate(content)
		truncated := false
		if validation.ExceedsLimit && p.config.TruncateOversized {
			res := Truncate(content, p.config.Limits)
			content = res.Text
			truncated = res.WasTruncated
		}

		doc.Content = content
		staged = append(staged, models.StagedDocument{
			Document:   doc,
			Validation: validation,
			Truncated:  truncated,
			Stages:     Chunk(content, p.config.Limits),
		})
	}

	return staged, nil
}

var horizontalSpace = regexp.MustCompile(`[ \t\f\v]+`)

// cleanText normalizes line endings and runs of spaces while keeping the
// blank lines the chunker splits paragraphs on.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
