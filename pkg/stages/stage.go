package stages

import "fmt"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Settled reports whether s is terminal.
func (s Status) Settled() bool {
	return s == StatusCompleted || s == StatusError
}

// Stage is one bounded slice of a larger document, in document order.
type Stage struct {
	ID           string `json:"id"`
	Index        int    `json:"index"`
	Content      string `json:"content"`
	UnitCount    int    `json:"unit_count"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func StageID(index int) string {
	return fmt.Sprintf("stage_%d", index)
}

// TotalUnits sums the estimated unit counts of all stages.
func TotalUnits(stages []Stage) int {
	total := 0
	for _, s := range stages {
		total += s.UnitCount
	}
	return total
}

// StagedResult aggregates one run over a stage sequence.
type StagedResult[R any] struct {
	Stages          []Stage `json:"stages"`
	TotalUnits      int     `json:"total_units"`
	IsComplete      bool    `json:"is_complete"`
	CombinedResults []R     `json:"combined_results"`

	results []R
	ok      []bool
}

// StageResult returns the result produced for stage i, if it completed.
func (r StagedResult[R]) StageResult(i int) (R, bool) {
	var zero R
	if i < 0 || i >= len(r.results) || !r.ok[i] {
		return zero, false
	}
	return r.results[i], true
}

// Failed returns the stages that ended in error.
func (r StagedResult[R]) Failed() []Stage {
	var failed []Stage
	for _, s := range r.Stages {
		if s.Status == StatusError {
			failed = append(failed, s)
		}
	}
	return failed
}
