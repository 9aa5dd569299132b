package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"faultgen/internal/embedding"
	"faultgen/internal/progress"
)

type embeddingsRunRequest struct {
	FaultIDs []string `json:"fault_ids"`
}

// EmbeddingsRun embeds the given faults synchronously and returns the
// structured outcome.
func (a *App) EmbeddingsRun(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.FaultIDs) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "fault_ids required")
		return
	}
	summary := a.Engine.EmbedFaults(r.Context(), req.FaultIDs)
	a.json(w, http.StatusOK, summary)
}

// EmbeddingsPage embeds one page of the global working set and returns the
// cursor for the next call.
func (a *App) EmbeddingsPage(w http.ResponseWriter, r *http.Request) {
	var req embedding.PageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	result, err := a.Pages.ProcessPage(r.Context(), req)
	if err != nil {
		a.Logger.Error().Err(err).Msg("embedding page failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process page")
		return
	}
	a.json(w, http.StatusOK, result)
}

func (a *App) BackfillStart(w http.ResponseWriter, r *http.Request) {
	var opts progress.Options
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}
	if err := a.Backfill.Start(r.Context(), opts); err != nil {
		if errors.Is(err, progress.ErrAlreadyRunning) {
			a.error(w, http.StatusConflict, "conflict", "backfill already running")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to start backfill")
		return
	}
	a.json(w, http.StatusAccepted, a.Backfill.Status())
}

func (a *App) BackfillCancel(w http.ResponseWriter, r *http.Request) {
	a.Backfill.Cancel()
	a.json(w, http.StatusAccepted, a.Backfill.Status())
}

func (a *App) BackfillStatus(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Backfill.Status())
}
