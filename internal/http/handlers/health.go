package handlers

import "net/http"

// Health reports service liveness, including backend health when the backend
// exposes a check.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}

	if checker, ok := a.Backend.(HealthChecker); ok {
		backendStatus, err := checker.Health(r.Context())
		if err != nil {
			body["backend"] = "unreachable"
		} else {
			body["backend"] = backendStatus
		}
	}

	a.json(w, http.StatusOK, body)
}
