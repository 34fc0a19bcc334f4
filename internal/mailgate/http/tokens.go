package http

import (
	"net/http"

	"github.com/relaypost/mailgate/internal/mailgate/service"
	"github.com/relaypost/mailgate/pkg/httpx"
	"github.com/relaypost/mailgate/pkg/slogx"
)

// TokensHandler mints short-lived access tokens for verified keys.
type TokensHandler struct {
	TokenService *service.TokenService
}

// HandleMint handles POST /v1/tokens. The gate middleware has already
// verified the key_id:secret credential; this trades it for a token.
func (h *TokensHandler) HandleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	grant, ok := GrantFromContext(ctx)
	if !ok {
		writeServerError(w, "Missing authorization grant")
		return
	}

	minted, err := h.TokenService.Mint(ctx, grant.Key)
	if err != nil {
		slogx.FromContext(ctx).Error("failed to mint token", "error", err)
		writeServerError(w, "Failed to mint token")
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, minted)
}
