package handlers

import (
	"net/http"

	"faultgen/internal/sqlinline"
)

func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	row := a.SQL.QueryRow(r.Context(), sqlinline.QStatsSummary)
	var totalJobs, pending, processing, completed, failed, totalFaults, faults24, totalEmbeddings int64
	if err := row.Scan(&totalJobs, &pending, &processing, &completed, &failed, &totalFaults, &faults24, &totalEmbeddings); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load stats")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"total_jobs":       totalJobs,
		"jobs_pending":     pending,
		"jobs_processing":  processing,
		"jobs_completed":   completed,
		"jobs_failed":      failed,
		"total_faults":     totalFaults,
		"faults_last_24h":  faults24,
		"total_embeddings": totalEmbeddings,
	})
}
