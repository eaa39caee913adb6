package handlers

import (
	"encoding/json"
	"net/http"

	"vidforge/internal/domain"
	"vidforge/internal/infra"
	"vidforge/internal/orchestrator"
	"vidforge/internal/storage"
)

// App is the handler container: repositories for reads, the orchestrator for
// anything that mutates a generation, and the file store for downloads.
type App struct {
	Generations domain.GenerationRepository
	Logs        domain.LogRepository
	Orch        *orchestrator.Orchestrator
	Store       *storage.FileStore
	Logger      infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": slug, "message": message},
	})
}
