package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"faultgen/internal/domain"
)

type jobsCreateRequest struct {
	Jobs []jobSpecDTO `json:"jobs"`
}

type jobSpecDTO struct {
	Brand        string `json:"brand"`
	Model        string `json:"model"`
	GenerationID string `json:"generation_id"`
	ContentType  string `json:"content_type"`
	Language     string `json:"language"`
	Count        int    `json:"count"`
}

func (d jobSpecDTO) toSpec() domain.JobSpec {
	return domain.JobSpec{
		Brand:        d.Brand,
		Model:        d.Model,
		GenerationID: d.GenerationID,
		ContentType:  d.ContentType,
		Language:     d.Language,
		Count:        d.Count,
	}
}

type jobDTO struct {
	ID            string `json:"id"`
	Brand         string `json:"brand"`
	Model         string `json:"model"`
	GenerationID  string `json:"generation_id"`
	ContentType   string `json:"content_type"`
	Language      string `json:"language"`
	Count         int    `json:"count"`
	Status        string `json:"status"`
	Stage         string `json:"stage"`
	BatchID       string `json:"batch_id,omitempty"`
	ProgressTotal int    `json:"progress_total"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func jobToDTO(job domain.GenerationJob) jobDTO {
	return jobDTO{
		ID:            job.ID,
		Brand:         job.Spec.Brand,
		Model:         job.Spec.Model,
		GenerationID:  job.Spec.GenerationID,
		ContentType:   job.Spec.ContentType,
		Language:      job.Spec.Language,
		Count:         job.Spec.Count,
		Status:        string(job.Status),
		Stage:         string(job.Stage),
		BatchID:       job.BatchID,
		ProgressTotal: job.ProgressTotal,
		ErrorMessage:  job.ErrorMessage,
	}
}

// JobsCreate registers generation jobs and starts processing them in the
// background. Invalid specs are dropped, not rejected: the response reports
// how many jobs were actually accepted.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	var req jobsCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if len(req.Jobs) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "at least one job is required")
		return
	}

	specs := make([]domain.JobSpec, len(req.Jobs))
	for i, dto := range req.Jobs {
		specs[i] = dto.toSpec()
	}
	jobs := a.Orchestrator.SubmitJobs(r.Context(), specs)

	go a.Orchestrator.ProcessAll(context.WithoutCancel(r.Context()), jobs)

	dtos := make([]jobDTO, len(jobs))
	for i, job := range jobs {
		dtos[i] = jobToDTO(job)
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"submitted": len(jobs),
		"dropped":   len(req.Jobs) - len(jobs),
		"jobs":      dtos,
	})
}

// JobsList returns recent jobs, optionally filtered by a single status.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	statuses := []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusProcessing,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		switch status := domain.JobStatus(raw); status {
		case domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
			statuses = []domain.JobStatus{status}
		default:
			a.error(w, http.StatusBadRequest, "bad_request", "unknown status "+raw)
			return
		}
	}

	out := make([]jobDTO, 0)
	for _, status := range statuses {
		jobs, err := a.Tracker.ListByStatus(r.Context(), status, limit)
		if err != nil {
			a.Logger.Error().Err(err).Str("status", string(status)).Msg("job listing failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
			return
		}
		for _, job := range jobs {
			out = append(out, jobToDTO(job))
		}
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": out, "count": len(out)})
}

func (a *App) JobGet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := a.Tracker.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, jobToDTO(*job))
}

// JobProcess pushes one job forward: a pending job is submitted, a
// processing job has its active batch polled.
func (a *App) JobProcess(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := a.Tracker.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	switch job.Status {
	case domain.JobStatusPending:
		err = a.Orchestrator.Process(r.Context(), job)
	case domain.JobStatusProcessing:
		err = a.Orchestrator.Advance(r.Context(), job)
	default:
		a.error(w, http.StatusConflict, "conflict", "job already finished")
		return
	}
	if errors.Is(err, domain.ErrCapacityExhausted) {
		a.error(w, http.StatusTooManyRequests, "capacity_exhausted", "batch capacity exhausted, job left pending")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("job processing failed")
	}
	a.json(w, http.StatusOK, jobToDTO(*job))
}

// BatchCapacity reports current headroom under the external service's
// concurrent batch limit.
func (a *App) BatchCapacity(w http.ResponseWriter, r *http.Request) {
	capacity, err := a.Orchestrator.CheckBatchCapacity(r.Context())
	resp := map[string]any{
		"can_proceed":  capacity.CanProceed,
		"active_count": capacity.ActiveCount,
		"max_allowed":  capacity.MaxAllowed,
	}
	if err != nil {
		// Fail open: report the degraded check instead of an error status.
		a.Logger.Warn().Err(err).Msg("capacity check degraded")
		resp["degraded"] = true
	}
	a.json(w, http.StatusOK, resp)
}
