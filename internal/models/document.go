package models

import (
	"time"

	"github.com/xhad/stager/pkg/limits"
	"github.com/xhad/stager/pkg/stages"
)

type Document struct {
	ID       string
	URL      string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

type StagedDocument struct {
	Document
	Validation limits.ValidationResult
	Truncated  bool
	Stages     []stages.Stage
}

// Run is one staged pass over a document as persisted by the store. Results
// and Embeddings are indexed like Stages; failed stages have empty entries.
type Run struct {
	ID         string
	Document   Document
	Stages     []stages.Stage
	TotalUnits int
	IsComplete bool
	Results    []string
	Embeddings [][]float32
	CreatedAt  time.Time
}

// StageMatch is a stored stage returned by a similarity search.
type StageMatch struct {
	RunID    string
	URL      string
	Stage    stages.Stage
	Result   string
	Distance float64
}
