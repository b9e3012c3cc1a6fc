package store

import (
	"context"
	"time"
)

// Sample is an accepted server reply.
type Sample struct {
	ID          string
	Server      string
	Stratum     int
	ReferenceID string
	Offset      time.Duration
	Delay       time.Duration
	CreatedAt   time.Time
}

// Failure is a failed exchange attempt.
type Failure struct {
	ID         string
	Server     string
	Error      string
	OccurredAt time.Time
}

// Adjustment is an attempt to step the host clock.
type Adjustment struct {
	ID        string
	Server    string
	Offset    time.Duration
	Error     string
	AppliedAt time.Time
}

type Store interface {
	Open(ctx context.Context) error
	Close() error

	InsertSample(ctx context.Context, s Sample) error
	InsertFailure(ctx context.Context, f Failure) error
	InsertAdjustment(ctx context.Context, a Adjustment) error

	ListSamplesSince(ctx context.Context, since time.Time, limit int) ([]Sample, error)
	ListAdjustments(ctx context.Context, limit int) ([]Adjustment, error)
	CountFailuresSince(ctx context.Context, since time.Time) (int64, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
