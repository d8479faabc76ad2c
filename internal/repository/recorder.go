package repository

import (
	"context"

	"github.com/leafsii/combined-position/internal/quotes"
)

// Recorder stores the outcome of every quote batch for later inspection.
type Recorder interface {
	RecordRun(ctx context.Context, sessionID string, report *quotes.BatchReport) error
	ListRuns(ctx context.Context, sessionID string, limit int) ([]Run, error)
	Ping(ctx context.Context) error
	Close() error
}

// NoopRecorder is used when no database is configured.
type NoopRecorder struct{}

func (NoopRecorder) RecordRun(context.Context, string, *quotes.BatchReport) error { return nil }
func (NoopRecorder) ListRuns(context.Context, string, int) ([]Run, error)         { return nil, nil }
func (NoopRecorder) Ping(context.Context) error                                    { return nil }
func (NoopRecorder) Close() error                                                  { return nil }
