package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/internal/mailgate/service"
	"github.com/relaypost/mailgate/pkg/httpx"
	"github.com/relaypost/mailgate/pkg/slogx"
)

// APIKeysHandler handles key management endpoints.
type APIKeysHandler struct {
	APIKeyService *service.APIKeyService
}

type createKeyRequest struct {
	Name               string               `json:"name"`
	Description        string               `json:"description"`
	Scopes             []string             `json:"scopes"`
	RateLimitPerMinute int                  `json:"rate_limit_per_minute"`
	RateLimitPerHour   int                  `json:"rate_limit_per_hour"`
	EmailAccount       *domain.EmailAccount `json:"email_account,omitempty"`
}

type updateKeyRequest struct {
	Name               *string              `json:"name"`
	Description        *string              `json:"description"`
	Scopes             []string             `json:"scopes"`
	RateLimitPerMinute *int                 `json:"rate_limit_per_minute"`
	RateLimitPerHour   *int                 `json:"rate_limit_per_hour"`
	EmailAccount       *domain.EmailAccount `json:"email_account,omitempty"`
}

type apiKeyResponse struct {
	KeyID              string     `json:"key_id"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	Scopes             []string   `json:"scopes"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	RateLimitPerHour   int        `json:"rate_limit_per_hour"`
	Active             bool       `json:"active"`
	HasEmailAccount    bool       `json:"has_email_account"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
}

type createKeyResponse struct {
	apiKeyResponse
	Secret string `json:"secret"`
}

func toKeyResponse(k domain.APIKey) apiKeyResponse {
	return apiKeyResponse{
		KeyID:              k.KeyID,
		Name:               k.Name,
		Description:        k.Description,
		Scopes:             domain.ScopeStrings(k.Scopes),
		RateLimitPerMinute: k.RateLimitPerMinute,
		RateLimitPerHour:   k.RateLimitPerHour,
		Active:             k.Active,
		HasEmailAccount:    len(k.EmailOverride) > 0,
		CreatedAt:          k.CreatedAt,
		UpdatedAt:          k.UpdatedAt,
		LastUsedAt:         k.LastUsedAt,
	}
}

// HandleCreate handles POST /v1/api-keys.
func (h *APIKeysHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidJSON(w)
		return
	}

	key, secret, err := h.APIKeyService.CreateKey(ctx, service.CreateKeyParams{
		Name:               req.Name,
		Description:        req.Description,
		Scopes:             req.Scopes,
		RateLimitPerMinute: req.RateLimitPerMinute,
		RateLimitPerHour:   req.RateLimitPerHour,
		EmailAccount:       req.EmailAccount,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			writeInvalidRequest(w, err)
			return
		}
		log.Error("failed to create api key", "error", err)
		writeServerError(w, "Failed to create api key")
		return
	}

	// The secret appears in this response and nowhere else.
	httpx.WriteJSON(w, http.StatusCreated, createKeyResponse{
		apiKeyResponse: toKeyResponse(key),
		Secret:         secret,
	})
}

// HandleList handles GET /v1/api-keys.
func (h *APIKeysHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	keys, err := h.APIKeyService.ListKeys(ctx)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to list api keys", "error", err)
		writeServerError(w, "Failed to list api keys")
		return
	}

	out := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, toKeyResponse(k))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleMe handles GET /v1/api-keys/me.
func (h *APIKeysHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	grant, ok := GrantFromContext(r.Context())
	if !ok {
		writeServerError(w, "Missing authorization grant")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toKeyResponse(grant.Key))
}

// HandleGet handles GET /v1/api-keys/{key_id}. Admin keys may read any
// record; other keys may only read their own.
func (h *APIKeysHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	grant, ok := GrantFromContext(r.Context())
	if !ok {
		writeServerError(w, "Missing authorization grant")
		return
	}

	keyID := r.PathValue("key_id")
	if !grant.Key.HasScope(domain.ScopeAdmin) && grant.Key.KeyID != keyID {
		httpx.WriteJSON(w, http.StatusForbidden, httpx.ErrorResponse{
			Error:            "insufficient_scope",
			ErrorDescription: "Only admin keys may read other keys",
		})
		return
	}

	key, err := h.APIKeyService.GetKey(r.Context(), keyID)
	if err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			writeNotFound(w, "No such api key")
			return
		}
		writeServerError(w, "Failed to load api key")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toKeyResponse(key))
}

// HandleUpdate handles PATCH /v1/api-keys/{key_id}. Admin keys may
// update any record; other keys may only rename themselves.
func (h *APIKeysHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	grant, ok := GrantFromContext(ctx)
	if !ok {
		writeServerError(w, "Missing authorization grant")
		return
	}

	var req updateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidJSON(w)
		return
	}

	key, err := h.APIKeyService.UpdateKey(ctx, grant.Key, r.PathValue("key_id"), service.UpdateKeyParams{
		Name:               req.Name,
		Description:        req.Description,
		Scopes:             req.Scopes,
		RateLimitPerMinute: req.RateLimitPerMinute,
		RateLimitPerHour:   req.RateLimitPerHour,
		EmailAccount:       req.EmailAccount,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrKeyNotFound):
			writeNotFound(w, "No such api key")
		case errors.Is(err, service.ErrNotPermitted):
			httpx.WriteJSON(w, http.StatusForbidden, httpx.ErrorResponse{
				Error:            "insufficient_scope",
				ErrorDescription: "Only admin keys may change this field",
			})
		case errors.Is(err, service.ErrInvalidInput):
			writeInvalidRequest(w, err)
		default:
			slogx.FromContext(ctx).Error("failed to update api key", "error", err)
			writeServerError(w, "Failed to update api key")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toKeyResponse(key))
}

// HandleDeactivate handles DELETE /v1/api-keys/{key_id}.
func (h *APIKeysHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.APIKeyService.DeactivateKey(ctx, r.PathValue("key_id")); err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			writeNotFound(w, "No such api key")
			return
		}
		slogx.FromContext(ctx).Error("failed to deactivate api key", "error", err)
		writeServerError(w, "Failed to deactivate api key")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
