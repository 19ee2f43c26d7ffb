package store

import (
	"github.com/xhad/stager/internal/models"
	"github.com/xhad/stager/pkg/stages"
)

// RunFromResult builds a storable run from a summarizing pass.
func RunFromResult(doc models.Document, result stages.StagedResult[string]) models.Run {
	run := models.Run{
		Document:   doc,
		Stages:     result.Stages,
		TotalUnits: result.TotalUnits,
		IsComplete: result.IsComplete,
		Results:    make([]string, len(result.Stages)),
	}
	for i := range result.Stages {
		if out, ok := result.StageResult(i); ok {
			run.Results[i] = out
		}
	}
	return run
}

// AttachEmbeddings copies per-stage vectors from an embedding pass over the
// same stages onto run.
func AttachEmbeddings(run *models.Run, result stages.StagedResult[[]float32]) {
	run.Embeddings = make([][]float32, len(run.Stages))
	for i := range run.Stages {
		if v, ok := result.StageResult(i); ok {
			run.Embeddings[i] = v
		}
	}
}
