package storage

import (
	"context"

	"spikenet/internal/model"
)

// Store defines the persistence operations for populations and run history.
type Store interface {
	Init(ctx context.Context) error
	SavePopulation(ctx context.Context, population model.Population) error
	GetPopulation(ctx context.Context, id string) (model.Population, bool, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveDiagnostics(ctx context.Context, runID string, diagnostics []model.CycleDiagnostics) error
	GetDiagnostics(ctx context.Context, runID string) ([]model.CycleDiagnostics, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
}
