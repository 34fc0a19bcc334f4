// Package http exposes the service over a versioned JSON API. Every
// mail and key-management route passes through the gate middleware;
// the public routes (bootstrap, token minting, health) carry their own
// per-IP edge limits instead.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/internal/mailgate/gate"
	"github.com/relaypost/mailgate/internal/mailgate/service"
	"github.com/relaypost/mailgate/internal/mailgate/store"
	"github.com/relaypost/mailgate/pkg/httpx"
	"github.com/relaypost/mailgate/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	gate         *gate.Gate
	store        store.Store
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	APIKeyService    *service.APIKeyService
	EmailService     *service.EmailService
	TokenService     *service.TokenService
	BootstrapService *service.BootstrapService
}

func NewRouter(g *gate.Gate, st store.Store, buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		gate:         g,
		store:        st,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAPIKeys()
	r.registerEmails()
	r.registerTokens()
	r.registerBootstrap()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware
// chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAPIKeys() {
	h := &APIKeysHandler{APIKeyService: r.APIKeyService}

	r.Mux.Handle("POST /v1/api-keys",
		r.authorize("api_keys.create", domain.ScopeAdmin, http.HandlerFunc(h.HandleCreate)))
	r.Mux.Handle("GET /v1/api-keys",
		r.authorize("api_keys.list", domain.ScopeAdmin, http.HandlerFunc(h.HandleList)))
	r.Mux.Handle("GET /v1/api-keys/me",
		r.authorize("api_keys.me", "", http.HandlerFunc(h.HandleMe)))
	r.Mux.Handle("GET /v1/api-keys/{key_id}",
		r.authorize("api_keys.get", "", http.HandlerFunc(h.HandleGet)))
	r.Mux.Handle("PATCH /v1/api-keys/{key_id}",
		r.authorize("api_keys.update", "", http.HandlerFunc(h.HandleUpdate)))
	r.Mux.Handle("DELETE /v1/api-keys/{key_id}",
		r.authorize("api_keys.deactivate", domain.ScopeAdmin, http.HandlerFunc(h.HandleDeactivate)))
}

func (r *Router) registerEmails() {
	h := &EmailsHandler{EmailService: r.EmailService}

	r.Mux.Handle("POST /v1/emails",
		r.authorize("email.send", domain.ScopeWrite, http.HandlerFunc(h.HandleSend)))
	r.Mux.Handle("GET /v1/emails/unread",
		r.authorize("email.list_unread", domain.ScopeRead, http.HandlerFunc(h.HandleListUnread)))
	r.Mux.Handle("POST /v1/emails/read-state",
		r.authorize("email.read_state_batch", domain.ScopeWrite, http.HandlerFunc(h.HandleBatchReadState)))
	r.Mux.Handle("POST /v1/emails/{message_id}/read",
		r.authorize("email.mark_read", domain.ScopeWrite, http.HandlerFunc(h.HandleMarkRead)))
	r.Mux.Handle("POST /v1/emails/{message_id}/unread",
		r.authorize("email.mark_unread", domain.ScopeWrite, http.HandlerFunc(h.HandleMarkUnread)))
}

func (r *Router) registerTokens() {
	h := &TokensHandler{TokenService: r.TokenService}

	// Token minting authenticates the raw credential; any verified key
	// may trade its secret for a short-lived token.
	r.Mux.Handle("POST /v1/tokens",
		httpx.Chain(
			r.authorize("token.mint", "", http.HandlerFunc(h.HandleMint)),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
}

func (r *Router) registerBootstrap() {
	h := &BootstrapHandler{BootstrapService: r.BootstrapService}

	r.Mux.Handle("POST /v1/bootstrap",
		httpx.Chain(http.HandlerFunc(h.HandleBootstrap),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.buildVersion, r.startTime),
			httpx.RateLimitByIP(httpx.LenientLimit),
		))
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.store, r.gate.Audit()),
			httpx.RateLimitByIP(httpx.LenientLimit),
		))
}
