// Package handlers exposes the orchestrator to HTTP callers: one operation
// to start a workflow execution and one websocket to observe progress.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
	"github.com/Pikian/comfy-ui-render-app/internal/infra"
)

// Executor starts workflow executions, synchronously or fire-and-forget.
type Executor interface {
	ExecuteJob(ctx context.Context, spec domain.JobSpec) domain.Outcome
	Dispatch(spec domain.JobSpec)
}

// HealthChecker is implemented by backends that expose a health endpoint.
type HealthChecker interface {
	Health(ctx context.Context) (string, error)
}

// App is the handler container, wired once at startup.
type App struct {
	Executor      Executor
	Backend       domain.Backend
	Logger        infra.Logger
	AsyncDispatch bool
	PollInterval  time.Duration
	TrackDeadline time.Duration
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) jsonError(w http.ResponseWriter, code int, detail string) {
	a.json(w, code, map[string]any{"detail": detail})
}
