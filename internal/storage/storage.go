// Package storage persists load test run history.
package storage

import (
	"context"

	"github.com/gateway-fm/rpcloadgen/pkg/types"
)

// Storage defines the persistence interface for run history.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *types.RunSummary) error
	CompleteRun(ctx context.Context, run *types.RunSummary) error
	GetRun(ctx context.Context, id string) (*types.RunSummary, error)

	// History queries
	ListRuns(ctx context.Context, limit, offset int) (*types.RunPage, error)
	GetRunDetail(ctx context.Context, id string) (*types.RunDetail, error)
	DeleteRun(ctx context.Context, id string) error

	// Sample bulk operations (called after the run completes)
	BulkInsertRateSamples(ctx context.Context, runID string, samples []types.RateSample) error
	BulkInsertBlockSamples(ctx context.Context, runID string, samples []types.BlockSample) error

	// Lifecycle
	Close() error
}
