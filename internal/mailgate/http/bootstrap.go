package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaypost/mailgate/internal/mailgate/service"
	"github.com/relaypost/mailgate/pkg/httpx"
	"github.com/relaypost/mailgate/pkg/slogx"
)

// BootstrapHandler creates the first admin key. The route is public but
// closes permanently once any key exists.
type BootstrapHandler struct {
	BootstrapService *service.BootstrapService
}

type bootstrapRequest struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// HandleBootstrap handles POST /v1/bootstrap.
func (h *BootstrapHandler) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req bootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidJSON(w)
		return
	}

	key, secret, err := h.BootstrapService.Bootstrap(ctx, req.Token, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBootstrapAlready):
			httpx.WriteJSON(w, http.StatusConflict, httpx.ErrorResponse{
				Error:            "already_bootstrapped",
				ErrorDescription: "The system already has keys",
			})
		case errors.Is(err, service.ErrBootstrapUnauthorized):
			httpx.WriteJSON(w, http.StatusUnauthorized, httpx.ErrorResponse{
				Error:            "invalid_token",
				ErrorDescription: "Bootstrap token mismatch",
			})
		default:
			log.Error("bootstrap failed", "error", err)
			writeServerError(w, "Failed to bootstrap")
		}
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, createKeyResponse{
		apiKeyResponse: toKeyResponse(key),
		Secret:         secret,
	})
}
