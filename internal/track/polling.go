// Package track observes submitted jobs until a terminal event. Two
// interchangeable strategies exist behind domain.Tracker: polling for
// queue-based backends and an event-stream consumer for inference servers.
package track

import (
	"context"
	"errors"
	"time"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
	"github.com/Pikian/comfy-ui-render-app/internal/infra"
)

// Sink receives transient progress events. Optional; used by callers that
// forward progress to observers.
type Sink func(domain.ProgressEvent)

// PollingTracker waits for a terminal result by repeatedly querying the
// backend's status endpoint a fixed interval apart, bounded by an overall
// deadline.
type PollingTracker struct {
	backend  domain.Backend
	interval time.Duration
	deadline time.Duration
	sink     Sink
	logger   infra.Logger
}

// NewPollingTracker constructs the polling strategy.
func NewPollingTracker(backend domain.Backend, interval, deadline time.Duration, sink Sink, logger infra.Logger) *PollingTracker {
	return &PollingTracker{
		backend:  backend,
		interval: interval,
		deadline: deadline,
		sink:     sink,
		logger:   logger,
	}
}

// Await polls until the backend records a terminal result. The deadline is
// expressed as a check budget: a deadline of N intervals allows exactly N
// status checks before the attempt times out. Transient fetch errors consume
// a check and polling continues; a FAILED status is immediately terminal.
func (t *PollingTracker) Await(ctx context.Context, handle domain.Handle) (*domain.ResultPayload, error) {
	checks := int(t.deadline / t.interval)
	if checks < 1 {
		checks = 1
	}

	for i := 0; i < checks; i++ {
		if i > 0 {
			if err := sleep(ctx, t.interval); err != nil {
				return nil, domain.E(domain.KindTimedOut, "polling interrupted", err)
			}
		}

		payload, err := t.backend.FetchResult(ctx, handle)
		switch {
		case err == nil:
			t.emit(domain.ProgressEvent{Stage: domain.StageCompleted})
			return payload, nil
		case errors.Is(err, domain.ErrNotReady):
			t.emit(domain.ProgressEvent{Stage: domain.StageExecuting})
		case domain.KindOf(err) == domain.KindBackendFailure:
			t.emit(domain.ProgressEvent{Stage: domain.StageFailed, Message: err.Error()})
			return nil, err
		default:
			// Transient network failure; the check budget bounds retries.
			t.logger.Warn().Err(err).Str("job_id", string(handle)).Msg("track: status check failed")
		}
	}

	return nil, domain.Ef(domain.KindTimedOut, "job %s did not finish within %s", handle, t.deadline)
}

func (t *PollingTracker) emit(event domain.ProgressEvent) {
	if t.sink != nil {
		t.sink(event)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
