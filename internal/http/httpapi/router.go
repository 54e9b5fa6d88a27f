// Package httpapi wires the HTTP routes.
package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Pikian/comfy-ui-render-app/internal/http/handlers"
	"github.com/Pikian/comfy-ui-render-app/internal/middleware"
)

// NewRouter builds the service router. staticDir, when non-empty, serves
// locally stored artifacts under /static (development mode without an object
// store).
func NewRouter(app *handlers.App, allowedOrigins []string, staticDir string) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, chimw.Logger)
	r.Use(middleware.CORS(allowedOrigins))

	r.Get("/v1/healthz", app.Health)

	r.Post("/execute-workflow", app.ExecuteWorkflow)
	r.Get("/ws/{id}", app.Progress)

	if staticDir != "" {
		fs := stdhttp.StripPrefix("/static/", stdhttp.FileServer(stdhttp.Dir(staticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return r
}
