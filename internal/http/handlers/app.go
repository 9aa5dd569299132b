package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"faultgen/internal/domain"
	"faultgen/internal/embedding"
	"faultgen/internal/infra"
	"faultgen/internal/infra/credentials"
	"faultgen/internal/pipeline"
	"faultgen/internal/progress"
	"faultgen/internal/storage"
)

// App holds the wired dependencies shared by all HTTP handlers.
type App struct {
	SQL          infra.SQLExecutor
	Logger       zerolog.Logger
	Tracker      domain.JobTracker
	Orchestrator *pipeline.Orchestrator
	Importer     *pipeline.Importer
	Batches      pipeline.BatchService
	Engine       *embedding.Engine
	Pages        *embedding.PageProcessor
	Backfill     *progress.Controller
	Credentials  *credentials.Store
	Store        *storage.FileStore
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
