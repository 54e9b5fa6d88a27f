package track

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
	"github.com/Pikian/comfy-ui-render-app/internal/infra"
)

// EventDialer opens the backend's broadcast event stream.
type EventDialer interface {
	DialEvents(ctx context.Context) (*websocket.Conn, error)
}

// StreamTracker consumes the inference server's websocket event stream until
// a terminal event for the tracked handle. Completion requires both an empty
// work queue and a recorded history entry: the queue-empty status frame can
// race the durable write, so the history endpoint is the source of truth.
//
// States: Connecting -> Listening -> {Listening, Confirming, Completed,
// Failed, Reconnecting}; Reconnecting -> Connecting up to the reconnect
// bound, then Exhausted.
type StreamTracker struct {
	dialer     EventDialer
	backend    domain.Backend
	deadline   time.Duration
	reconnects int
	backoff    time.Duration
	sink       Sink
	logger     infra.Logger
}

// NewStreamTracker constructs the event-stream strategy. The wall-clock
// deadline bounds the whole await, including time spent reconnecting; a
// stream that stays open without ever reaching a terminal event cannot hang
// the attempt forever.
func NewStreamTracker(dialer EventDialer, backend domain.Backend, deadline time.Duration, reconnects int, backoff time.Duration, sink Sink, logger infra.Logger) *StreamTracker {
	return &StreamTracker{
		dialer:     dialer,
		backend:    backend,
		deadline:   deadline,
		reconnects: reconnects,
		backoff:    backoff,
		sink:       sink,
		logger:     logger,
	}
}

// errStreamDropped signals a connection loss before a terminal event.
var errStreamDropped = errors.New("event stream dropped")

// Await listens for the handle's terminal event, reconnecting on connection
// loss up to the configured bound.
func (t *StreamTracker) Await(ctx context.Context, handle domain.Handle) (*domain.ResultPayload, error) {
	if t.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.deadline)
		defer cancel()
	}

	drops := 0
	for {
		payload, err := t.connectAndListen(ctx, handle)
		switch {
		case err == nil:
			return payload, nil
		case errors.Is(err, context.DeadlineExceeded):
			return nil, domain.Ef(domain.KindTimedOut, "job %s did not finish within %s", handle, t.deadline)
		case errors.Is(err, errStreamDropped):
			drops++
			if drops > t.reconnects {
				return nil, domain.Ef(domain.KindConnectionExhausted, "event stream for job %s dropped %d times", handle, drops)
			}
			t.logger.Warn().Str("job_id", string(handle)).Int("attempt", drops).Msg("track: event stream lost, reconnecting")
			if err := sleep(ctx, t.backoff); err != nil {
				return nil, domain.Ef(domain.KindTimedOut, "job %s did not finish within %s", handle, t.deadline)
			}
		default:
			return nil, err
		}
	}
}

func (t *StreamTracker) connectAndListen(ctx context.Context, handle domain.Handle) (*domain.ResultPayload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := t.dialer.DialEvents(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.logger.Warn().Err(err).Str("job_id", string(handle)).Msg("track: event stream dial failed")
		return nil, errStreamDropped
	}
	defer conn.Close()

	// Unblock the read loop when the context expires; the read error is then
	// attributed to the context rather than the connection.
	watchdog := make(chan struct{})
	defer close(watchdog)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchdog:
		}
	}()

	return t.listen(ctx, conn, handle)
}

type eventFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type statusData struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

type executingData struct {
	Node     string `json:"node"`
	PromptID string `json:"prompt_id"`
}

type progressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
}

type executionErrorData struct {
	PromptID         string `json:"prompt_id"`
	ExceptionMessage string `json:"exception_message"`
}

func (t *StreamTracker) listen(ctx context.Context, conn *websocket.Conn, handle domain.Handle) (*domain.ResultPayload, error) {
	for {
		var frame eventFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errStreamDropped
		}

		switch frame.Type {
		case "status":
			var status statusData
			if err := json.Unmarshal(frame.Data, &status); err != nil {
				continue
			}
			remaining := status.Status.ExecInfo.QueueRemaining
			t.emit(domain.ProgressEvent{Stage: domain.StageQueued, QueueDepth: remaining})
			if remaining == 0 {
				if payload := t.confirm(ctx, handle); payload != nil {
					t.emit(domain.ProgressEvent{Stage: domain.StageCompleted})
					return payload, nil
				}
			}

		case "executing":
			var executing executingData
			if err := json.Unmarshal(frame.Data, &executing); err != nil {
				continue
			}
			if executing.PromptID == "" || executing.PromptID == string(handle) {
				t.emit(domain.ProgressEvent{Stage: domain.StageExecuting, NodeID: executing.Node})
			}

		case "progress":
			var progress progressData
			if err := json.Unmarshal(frame.Data, &progress); err != nil {
				continue
			}
			if progress.PromptID == "" || progress.PromptID == string(handle) {
				t.emit(domain.ProgressEvent{Stage: domain.StageProgress, Current: progress.Value, Total: progress.Max})
			}

		case "execution_error":
			var failure executionErrorData
			if err := json.Unmarshal(frame.Data, &failure); err != nil {
				continue
			}
			// The stream is broadcast; errors for other prompts are not ours.
			if failure.PromptID != string(handle) {
				continue
			}
			msg := failure.ExceptionMessage
			if msg == "" {
				msg = "execution error"
			}
			t.emit(domain.ProgressEvent{Stage: domain.StageFailed, Message: msg})
			return nil, domain.Ef(domain.KindBackendFailure, "comfy: job %s failed: %s", handle, msg)
		}
	}
}

// confirm checks the history endpoint for the handle's recorded result.
// Returns nil while the result is not durably written; the tracker keeps
// listening in that case.
func (t *StreamTracker) confirm(ctx context.Context, handle domain.Handle) *domain.ResultPayload {
	payload, err := t.backend.FetchResult(ctx, handle)
	if err != nil {
		if !errors.Is(err, domain.ErrNotReady) {
			t.logger.Warn().Err(err).Str("job_id", string(handle)).Msg("track: history confirmation failed")
		}
		return nil
	}
	return payload
}

func (t *StreamTracker) emit(event domain.ProgressEvent) {
	if t.sink != nil {
		t.sink(event)
	}
}
