package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tnicklin/cubeclock/ntp"
)

// Recorder turns observer events into history rows.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder creates a Recorder writing to st.
func NewRecorder(st Store) *Recorder {
	return &Recorder{store: st, now: time.Now}
}

func (r *Recorder) RecordSample(ctx context.Context, server string, p *ntp.Packet) error {
	return r.store.InsertSample(ctx, Sample{
		ID:          uuid.NewString(),
		Server:      server,
		Stratum:     int(p.Stratum),
		ReferenceID: p.ReferenceName(),
		Offset:      p.LocalClockOffset(),
		Delay:       p.RoundTripDelay(),
		CreatedAt:   p.CreationTime(),
	})
}

func (r *Recorder) RecordFailure(ctx context.Context, server string, cause error) error {
	return r.store.InsertFailure(ctx, Failure{
		ID:         uuid.NewString(),
		Server:     server,
		Error:      cause.Error(),
		OccurredAt: r.now(),
	})
}

func (r *Recorder) RecordAdjustment(ctx context.Context, server string, offset time.Duration, cause error) error {
	a := Adjustment{
		ID:        uuid.NewString(),
		Server:    server,
		Offset:    offset,
		AppliedAt: r.now(),
	}
	if cause != nil {
		a.Error = cause.Error()
	}
	return r.store.InsertAdjustment(ctx, a)
}
