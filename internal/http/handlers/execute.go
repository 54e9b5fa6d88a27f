package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
)

type workflowRequest struct {
	Workflow         json.RawMessage `json:"workflow"`
	ContentRequestID string          `json:"content_request_id"`
	UserID           string          `json:"user_id"`
}

// ExecuteWorkflow starts one workflow execution. In synchronous mode the
// response carries the terminal outcome; in fire-and-forget mode (service
// config or ?async=1) it acknowledges immediately and the content-request
// status field is the caller's only channel for the result.
func (a *App) ExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.jsonError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Workflow) == 0 {
		a.jsonError(w, http.StatusBadRequest, "workflow is required")
		return
	}
	if req.ContentRequestID == "" {
		a.jsonError(w, http.StatusBadRequest, "content_request_id is required")
		return
	}

	spec := domain.JobSpec{
		Workflow:      req.Workflow,
		CorrelationID: req.ContentRequestID,
		OwnerID:       req.UserID,
	}
	a.Logger.Info().Str("content_request_id", spec.CorrelationID).Msg("handlers: workflow execution requested")

	if a.AsyncDispatch || r.URL.Query().Get("async") == "1" {
		a.Executor.Dispatch(spec)
		a.json(w, http.StatusAccepted, map[string]any{
			"status":             "accepted",
			"content_request_id": spec.CorrelationID,
		})
		return
	}

	outcome := a.Executor.ExecuteJob(r.Context(), spec)
	if !outcome.Success {
		a.json(w, statusForReason(outcome.Reason), map[string]any{
			"status":             "error",
			"reason":             string(outcome.Reason),
			"detail":             outcome.Detail,
			"content_request_id": outcome.CorrelationID,
		})
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"status":             "success",
		"image_url":          outcome.ArtifactURL,
		"artifact_id":        outcome.ArtifactID,
		"content_request_id": outcome.CorrelationID,
	})
}

func statusForReason(reason domain.Kind) int {
	switch reason {
	case domain.KindSubmission:
		return http.StatusBadGateway
	case domain.KindTimedOut:
		return http.StatusGatewayTimeout
	case domain.KindRecordNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
