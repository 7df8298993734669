package handlers

import (
	"encoding/json"
	"net/http"

	"upscaler/internal/domain"
	"upscaler/internal/infra"
	"upscaler/internal/upscaler"
)

// App bundles the dependencies of the HTTP surface.
type App struct {
	Config   *infra.Config
	Logger   infra.Logger
	Upscaler *upscaler.Service
	Sessions domain.SessionRepository
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{"error": code, "message": message})
}

// Health reports liveness.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
