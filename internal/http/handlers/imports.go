package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"faultgen/internal/jsonl"
)

const maxImportUpload = 64 << 20 // 64 MiB

type importRequest struct {
	BatchID string `json:"batch_id"`
	FileID  string `json:"file_id"`
}

// ImportsCreate reconciles a batch result file into the store. The file can
// arrive three ways: by batch id (the batch's output file is fetched), by
// file id, or as a direct multipart upload under the "file" field.
func (a *App) ImportsCreate(w http.ResponseWriter, r *http.Request) {
	var reader io.Reader

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportUpload); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid multipart payload")
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "file field required")
			return
		}
		defer file.Close()
		reader = file
	} else {
		var req importRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
		fileID := strings.TrimSpace(req.FileID)
		if fileID == "" && req.BatchID != "" {
			batch, err := a.Batches.GetBatch(r.Context(), req.BatchID)
			if err != nil {
				a.Logger.Error().Err(err).Str("batch_id", req.BatchID).Msg("batch lookup failed")
				a.error(w, http.StatusBadGateway, "upstream", "failed to look up batch")
				return
			}
			if batch.OutputFileID == "" {
				a.error(w, http.StatusConflict, "conflict", "batch has no output file yet")
				return
			}
			fileID = batch.OutputFileID
		}
		if fileID == "" {
			a.error(w, http.StatusBadRequest, "bad_request", "batch_id or file_id required")
			return
		}
		body, err := a.Batches.FileContent(r.Context(), fileID)
		if err != nil {
			a.Logger.Error().Err(err).Str("file_id", fileID).Msg("result file fetch failed")
			a.error(w, http.StatusBadGateway, "upstream", "failed to fetch result file")
			return
		}
		defer body.Close()
		reader = body
	}

	records, skipped, err := jsonl.DecodeResults(reader)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable result file")
		return
	}
	summary := a.Importer.ImportResults(r.Context(), records)
	a.json(w, http.StatusOK, map[string]any{
		"processed":     summary.Processed,
		"inserted":      summary.Inserted,
		"duplicates":    summary.Duplicates,
		"failed":        summary.Failed,
		"skipped_lines": skipped,
		"errors":        summary.Errors,
	})
}
