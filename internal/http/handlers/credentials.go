package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

type setCredentialRequest struct {
	APIKey string `json:"api_key"`
}

// CredentialsSetOpenAI stores the OpenAI key in the database so it can be
// rotated without a redeploy.
func (a *App) CredentialsSetOpenAI(w http.ResponseWriter, r *http.Request) {
	var req setCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Credentials.SetOpenAIAPIKey(r.Context(), req.APIKey); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "stored"})
}

// CredentialsGetOpenAI reports whether a key is configured, masked.
func (a *App) CredentialsGetOpenAI(w http.ResponseWriter, r *http.Request) {
	key, err := a.Credentials.OpenAIAPIKey(r.Context())
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load credential")
		return
	}
	masked := ""
	if key != "" {
		masked = "****"
		if len(key) > 8 {
			masked = key[:4] + strings.Repeat("*", 8) + key[len(key)-4:]
		}
	}
	a.json(w, http.StatusOK, map[string]any{
		"configured": key != "",
		"api_key":    masked,
	})
}
