package handlers

import (
	"fmt"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"faultgen/pkg/zip"
)

// JobArtifacts streams all stored stage files for a job as one zip archive.
func (a *App) JobArtifacts(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	keys, err := a.Store.List(r.Context(), "jobs/"+jobID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("artifact listing failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list artifacts")
		return
	}
	if len(keys) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no artifacts for job")
		return
	}

	assets := make([]zip.Asset, 0, len(keys))
	for _, key := range keys {
		data, err := a.Store.Read(r.Context(), key)
		if err != nil {
			a.Logger.Warn().Err(err).Str("key", key).Msg("artifact read failed")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: path.Base(key),
			MIME:     "application/jsonl",
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusInternalServerError, "internal", "artifacts unreadable")
		return
	}

	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s-artifacts.zip", jobID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
