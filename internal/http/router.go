package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"upscaler/internal/http/handlers"
	"upscaler/internal/middleware"
)

// NewRouter wires the API routes. Auth resolves the user but does not reject
// anonymous requests; handlers surface "not logged in" themselves so the
// submission preconditions fire in the specified order.
func NewRouter(app *handlers.App, staticDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, chimw.Logger)
	r.Use(middleware.AuthJWT(app.Config.JWTSecret))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/credits/balance", app.Balance)

		r.Route("/upscale", func(r chi.Router) {
			r.Post("/session", app.Session)
			r.Get("/active", app.ActiveJob)
			r.Post("/submit", app.Submit)
			r.Route("/jobs/{job_id}", func(r chi.Router) {
				r.Get("/", app.Job)
				r.Get("/events", app.JobEvents)
				r.Post("/cancel", app.Cancel)
			})
		})
	})

	if staticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir)))
		r.Get("/static/*", func(w http.ResponseWriter, req *http.Request) {
			fs.ServeHTTP(w, req)
		})
	}

	return r
}
