package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/orvio/server/internal/auth"
	"github.com/orvio/server/internal/middleware"
)

// ApiKeyHandler handles the /auth/apiKey endpoints
type ApiKeyHandler struct {
	apiKeys *auth.ApiKeyService
}

// NewApiKeyHandler creates a new API key handler
func NewApiKeyHandler(apiKeys *auth.ApiKeyService) *ApiKeyHandler {
	return &ApiKeyHandler{apiKeys: apiKeys}
}

// createKeyRequest is the request body for POST /auth/apiKey/createNew
type createKeyRequest struct {
	Name string `json:"name"`
}

// createKeyResponse returns the key string. This is the only time the key is
// ever visible; only its hash is stored.
type createKeyResponse struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// keyListEntry is one descriptor in the getAll listing
type keyListEntry struct {
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// HandleCreateNew handles POST /auth/apiKey/createNew (protected)
func (h *ApiKeyHandler) HandleCreateNew(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "name is required")
		return
	}

	key, err := h.apiKeys.Create(r.Context(), userID, req.Name)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateKeyName) {
			respondWithError(w, http.StatusConflict, "key name already in use")
			return
		}
		log.Printf("Failed to create API key for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to create API key")
		return
	}

	respondWithJSON(w, http.StatusCreated, createKeyResponse{Name: req.Name, Key: key})
}

// HandleGetAll handles GET /auth/apiKey/getAll (protected)
func (h *ApiKeyHandler) HandleGetAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	descriptors, err := h.apiKeys.ListAll(r.Context(), userID)
	if err != nil {
		log.Printf("Failed to list API keys for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to list API keys")
		return
	}

	entries := make([]keyListEntry, 0, len(descriptors))
	for _, d := range descriptors {
		entries = append(entries, keyListEntry{
			Name:       d.Name,
			CreatedAt:  d.CreatedAt,
			LastUsedAt: d.LastUsedAt,
		})
	}

	respondWithJSON(w, http.StatusOK, entries)
}

// revokeKeyRequest is the request body for POST /auth/apiKey/revoke
type revokeKeyRequest struct {
	Key string `json:"key"`
}

// HandleRevoke handles POST /auth/apiKey/revoke (protected)
func (h *ApiKeyHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req revokeKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		respondWithError(w, http.StatusBadRequest, "key is required")
		return
	}

	if err := h.apiKeys.Revoke(r.Context(), userID, req.Key); err != nil {
		if errors.Is(err, auth.ErrApiKeyNotFound) {
			respondWithError(w, http.StatusNotFound, "API key not found")
			return
		}
		log.Printf("Failed to revoke API key for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to revoke API key")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "key revoked"})
}
