package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
)

var upgrader = websocket.Upgrader{
	// The service already runs permissive CORS; the socket carries only
	// progress frames for a caller-known job id.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Progress streams progress frames for a submitted job over a websocket.
// This is a thin observer layered on the backend status check: it polls at
// the configured interval and forwards one frame per check, closing after a
// terminal frame or the tracking deadline.
func (a *App) Progress(w http.ResponseWriter, r *http.Request) {
	jobID := domain.Handle(chi.URLParam(r, "id"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := a.Logger.With().Str("job_id", string(jobID)).Logger()
	deadline := time.Now().Add(a.TrackDeadline)

	for {
		event := a.observe(r, jobID)
		if err := conn.WriteJSON(event); err != nil {
			logger.Debug().Err(err).Msg("handlers: progress subscriber gone")
			return
		}
		if event.Terminal() {
			logger.Info().Str("stage", string(event.Stage)).Msg("handlers: progress stream closing")
			return
		}
		if a.TrackDeadline > 0 && time.Now().After(deadline) {
			logger.Info().Msg("handlers: progress stream deadline reached")
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(a.PollInterval):
		}
	}
}

// observe maps one backend status check onto a progress frame.
func (a *App) observe(r *http.Request, jobID domain.Handle) domain.ProgressEvent {
	payload, err := a.Backend.FetchResult(r.Context(), jobID)
	switch {
	case err == nil && payload != nil:
		return domain.ProgressEvent{Stage: domain.StageCompleted}
	case errors.Is(err, domain.ErrNotReady):
		return domain.ProgressEvent{Stage: domain.StageExecuting}
	case domain.KindOf(err) == domain.KindBackendFailure:
		return domain.ProgressEvent{Stage: domain.StageFailed, Message: err.Error()}
	default:
		a.Logger.Warn().Err(err).Str("job_id", string(jobID)).Msg("handlers: progress status check failed")
		return domain.ProgressEvent{Stage: domain.StageExecuting, Message: "status check failed"}
	}
}
