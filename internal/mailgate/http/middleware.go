package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/relaypost/mailgate/internal/mailgate/domain"
	"github.com/relaypost/mailgate/internal/mailgate/gate"
	"github.com/relaypost/mailgate/pkg/httpx"
)

type grantKey struct{}

// GrantFromContext returns the grant attached by the authorize
// middleware. Handlers behind the middleware can assume it is present.
func GrantFromContext(ctx context.Context) (gate.Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(gate.Grant)
	return g, ok
}

// authorize wraps a handler with the gate. The bearer credential is
// taken from the Authorization header, the decision headers are set on
// allows and denials are mapped to the API error shape.
func (r *Router) authorize(operation string, required domain.Scope, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		grant, err := r.gate.Authorize(req.Context(), bearerToken(req), operation, required)
		if err != nil {
			writeGateError(w, err)
			return
		}

		w.Header().Set("X-RateLimit-Remaining-Minute", strconv.Itoa(grant.RemainingMinute))
		w.Header().Set("X-RateLimit-Remaining-Hour", strconv.Itoa(grant.RemainingHour))

		ctx := context.WithValue(req.Context(), grantKey{}, grant)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeGateError maps gate denials onto HTTP statuses. Unknown
// identifiers and secret mismatches share one external shape so the
// response does not leak which part of the credential was wrong.
func writeGateError(w http.ResponseWriter, err error) {
	var rle *gate.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Retry-After", strconv.Itoa(rle.RetryAfter))
		httpx.WriteJSON(w, http.StatusTooManyRequests, httpx.ErrorResponse{
			Error:            "rate_limited",
			ErrorDescription: "Rate limit exceeded, retry later",
		})
		return
	}

	switch {
	case errors.Is(err, gate.ErrInsufficientScope):
		httpx.WriteJSON(w, http.StatusForbidden, httpx.ErrorResponse{
			Error:            "insufficient_scope",
			ErrorDescription: "The key does not hold the required scope",
		})
	case errors.Is(err, gate.ErrStoreUnavailable):
		httpx.WriteJSON(w, http.StatusServiceUnavailable, httpx.ErrorResponse{
			Error:            "store_unavailable",
			ErrorDescription: "Credential store is unavailable",
		})
	default:
		httpx.WriteJSON(w, http.StatusUnauthorized, httpx.ErrorResponse{
			Error:            "invalid_credential",
			ErrorDescription: "Credential was missing, malformed or not accepted",
		})
	}
}
