package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaypost/mailgate/internal/mailgate/gate"
	"github.com/relaypost/mailgate/internal/mailgate/mail/memory"
	"github.com/relaypost/mailgate/internal/mailgate/ratelimit"
	"github.com/relaypost/mailgate/internal/mailgate/service"
	"github.com/relaypost/mailgate/internal/mailgate/store/drivers/sqlite"
	"github.com/relaypost/mailgate/pkg/cryptox"
	"github.com/relaypost/mailgate/pkg/jwtx"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "http-test-*")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper.key"))
	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

type testEnv struct {
	server *httptest.Server
	box    *memory.Mailbox
	admin  string // bearer credential for the bootstrap admin key
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	limiter := ratelimit.New()
	verifier := gate.NewVerifier(st.APIKeys())
	audit := gate.NewRecorder(st.AuditLogs())

	signer := jwtx.NewSigner([]byte("test-signing-secret"), "mailgate", 30*time.Minute)
	tokens := &service.TokenService{Signer: signer}

	keys := &service.APIKeyService{Store: st, Invalidator: verifier}
	g := gate.New(verifier, tokens, limiter, audit, st.APIKeys(), keys)

	box := memory.New()
	emails := &service.EmailService{Transport: box, DefaultSender: "noreply@example.com"}
	bootstrap := &service.BootstrapService{Store: st, Keys: keys, Token: "setup-token"}

	router := NewRouter(g, st, "test", logger)
	router.APIKeyService = keys
	router.EmailService = emails
	router.TokenService = tokens
	router.BootstrapService = bootstrap
	router.ApplyRoutes()

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	env := &testEnv{server: server, box: box}
	env.bootstrapAdmin(t)
	return env
}

func (e *testEnv) bootstrapAdmin(t *testing.T) {
	t.Helper()

	status, body := e.request(t, http.MethodPost, "/v1/bootstrap", "", map[string]any{
		"token": "setup-token",
		"name":  "test admin",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var resp struct {
		KeyID  string `json:"key_id"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	e.admin = resp.KeyID + ":" + resp.Secret
}

func (e *testEnv) request(t *testing.T, method, path, bearer string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func (e *testEnv) createKey(t *testing.T, scopes []string, perMinute, perHour int) (keyID, bearer string) {
	t.Helper()

	status, body := e.request(t, http.MethodPost, "/v1/api-keys", e.admin, map[string]any{
		"name":                  "test key",
		"scopes":                scopes,
		"rate_limit_per_minute": perMinute,
		"rate_limit_per_hour":   perHour,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var resp struct {
		KeyID  string `json:"key_id"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.KeyID, resp.KeyID + ":" + resp.Secret
}

func TestBootstrapLifecycle(t *testing.T) {
	env := newTestEnv(t)

	t.Run("second bootstrap conflicts", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPost, "/v1/bootstrap", "", map[string]any{
			"token": "setup-token",
		})
		require.Equal(t, http.StatusConflict, status)
	})
}

func TestSendEmail(t *testing.T) {
	env := newTestEnv(t)
	_, bearer := env.createKey(t, []string{"read", "write"}, 10, 100)

	t.Run("accepted", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPost, "/v1/emails", bearer, map[string]any{
			"to":        []string{"to@example.com"},
			"subject":   "hello",
			"text_body": "body",
		})
		require.Equal(t, http.StatusAccepted, status)
		require.Len(t, env.box.Sent(), 1)
	})

	t.Run("invalid recipient rejected", func(t *testing.T) {
		status, body := env.request(t, http.MethodPost, "/v1/emails", bearer, map[string]any{
			"to": []string{"not valid"},
		})
		require.Equal(t, http.StatusBadRequest, status)
		require.Contains(t, string(body), "invalid_request")
	})

	t.Run("key with email account sends as its own address", func(t *testing.T) {
		status, body := env.request(t, http.MethodPost, "/v1/api-keys", env.admin, map[string]any{
			"name":                  "override key",
			"scopes":                []string{"write"},
			"rate_limit_per_minute": 10,
			"rate_limit_per_hour":   100,
			"email_account": map[string]any{
				"address":  "custom@example.com",
				"password": "hunter2",
			},
		})
		require.Equal(t, http.StatusCreated, status, string(body))

		var resp struct {
			KeyID  string `json:"key_id"`
			Secret string `json:"secret"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))

		status, _ = env.request(t, http.MethodPost, "/v1/emails", resp.KeyID+":"+resp.Secret, map[string]any{
			"to":        []string{"to@example.com"},
			"subject":   "from override",
			"text_body": "body",
		})
		require.Equal(t, http.StatusAccepted, status)
		require.Equal(t, "custom@example.com", env.box.LastSender())
	})
}

func TestGateDenials(t *testing.T) {
	env := newTestEnv(t)
	keyID, bearer := env.createKey(t, []string{"read"}, 10, 100)

	t.Run("missing credential", func(t *testing.T) {
		status, body := env.request(t, http.MethodGet, "/v1/emails/unread", "", nil)
		require.Equal(t, http.StatusUnauthorized, status)
		require.Contains(t, string(body), "invalid_credential")
	})

	t.Run("unknown key and wrong secret look identical", func(t *testing.T) {
		s1, b1 := env.request(t, http.MethodGet, "/v1/emails/unread", "nosuchkey:secret", nil)
		s2, b2 := env.request(t, http.MethodGet, "/v1/emails/unread", keyID+":wrongsecret", nil)
		require.Equal(t, http.StatusUnauthorized, s1)
		require.Equal(t, s1, s2)
		require.JSONEq(t, string(b1), string(b2))
	})

	t.Run("missing scope", func(t *testing.T) {
		status, body := env.request(t, http.MethodPost, "/v1/emails", bearer, map[string]any{
			"to":        []string{"to@example.com"},
			"subject":   "hi",
			"text_body": "body",
		})
		require.Equal(t, http.StatusForbidden, status)
		require.Contains(t, string(body), "insufficient_scope")
	})

	t.Run("deactivated key denied", func(t *testing.T) {
		status, _ := env.request(t, http.MethodDelete, "/v1/api-keys/"+keyID, env.admin, nil)
		require.Equal(t, http.StatusNoContent, status)

		status, _ = env.request(t, http.MethodGet, "/v1/emails/unread", bearer, nil)
		require.Equal(t, http.StatusUnauthorized, status)
	})
}

func TestRateLimitHeaders(t *testing.T) {
	env := newTestEnv(t)
	_, bearer := env.createKey(t, []string{"read"}, 2, 100)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/v1/emails/unread", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1", resp.Header.Get("X-RateLimit-Remaining-Minute"))
	require.Equal(t, "99", resp.Header.Get("X-RateLimit-Remaining-Hour"))

	resp, err = env.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining-Minute"))

	resp, err = env.server.Client().Do(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	require.Contains(t, string(raw), "rate_limited")
}

func TestUnreadAndReadState(t *testing.T) {
	env := newTestEnv(t)
	_, bearer := env.createKey(t, []string{"read", "write"}, 30, 300)

	now := time.Now().UTC()
	m1 := env.box.Deliver("a@example.com", "first", "body", now.Add(-time.Second))
	m2 := env.box.Deliver("b@example.com", "second", "body", now)

	t.Run("list unread defaults to today", func(t *testing.T) {
		status, body := env.request(t, http.MethodGet, "/v1/emails/unread", bearer, nil)
		require.Equal(t, http.StatusOK, status)

		var resp struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		require.Equal(t, 2, resp.Count)
	})

	t.Run("mark read", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPost, "/v1/emails/"+m1+"/read", bearer, nil)
		require.Equal(t, http.StatusOK, status)

		status, body := env.request(t, http.MethodGet, "/v1/emails/unread?scope=all", bearer, nil)
		require.Equal(t, http.StatusOK, status)
		require.NotContains(t, string(body), m1)
		require.Contains(t, string(body), m2)
	})

	t.Run("unknown message 404", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPost, "/v1/emails/zzz/read", bearer, nil)
		require.Equal(t, http.StatusNotFound, status)
	})

	t.Run("batch reports mixed outcomes", func(t *testing.T) {
		status, body := env.request(t, http.MethodPost, "/v1/emails/read-state", bearer, map[string]any{
			"message_ids": []string{m2, "zzz"},
			"read":        true,
		})
		require.Equal(t, http.StatusOK, status)

		var resp struct {
			Results []struct {
				ID string `json:"id"`
				OK bool   `json:"ok"`
			} `json:"results"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		require.Len(t, resp.Results, 2)
		require.True(t, resp.Results[0].OK)
		require.False(t, resp.Results[1].OK)
	})

	t.Run("bad filter", func(t *testing.T) {
		status, _ := env.request(t, http.MethodGet, "/v1/emails/unread?scope=weekly", bearer, nil)
		require.Equal(t, http.StatusBadRequest, status)
	})
}

func TestAPIKeyManagement(t *testing.T) {
	env := newTestEnv(t)
	keyID, bearer := env.createKey(t, []string{"read"}, 10, 100)

	t.Run("list requires admin", func(t *testing.T) {
		status, _ := env.request(t, http.MethodGet, "/v1/api-keys", bearer, nil)
		require.Equal(t, http.StatusForbidden, status)

		status, body := env.request(t, http.MethodGet, "/v1/api-keys", env.admin, nil)
		require.Equal(t, http.StatusOK, status)
		require.Contains(t, string(body), keyID)
	})

	t.Run("me works for any key", func(t *testing.T) {
		status, body := env.request(t, http.MethodGet, "/v1/api-keys/me", bearer, nil)
		require.Equal(t, http.StatusOK, status)

		var resp struct {
			KeyID  string   `json:"key_id"`
			Scopes []string `json:"scopes"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		require.Equal(t, keyID, resp.KeyID)
		require.Equal(t, []string{"read"}, resp.Scopes)
	})

	t.Run("get allows admin or owner", func(t *testing.T) {
		otherID, otherBearer := env.createKey(t, []string{"read"}, 10, 100)

		status, body := env.request(t, http.MethodGet, "/v1/api-keys/"+otherID, otherBearer, nil)
		require.Equal(t, http.StatusOK, status)
		require.Contains(t, string(body), otherID)

		status, _ = env.request(t, http.MethodGet, "/v1/api-keys/"+keyID, otherBearer, nil)
		require.Equal(t, http.StatusForbidden, status)

		status, body = env.request(t, http.MethodGet, "/v1/api-keys/"+otherID, env.admin, nil)
		require.Equal(t, http.StatusOK, status)
		require.Contains(t, string(body), otherID)
	})

	t.Run("admin updates scopes", func(t *testing.T) {
		status, body := env.request(t, http.MethodPatch, "/v1/api-keys/"+keyID, env.admin, map[string]any{
			"scopes": []string{"read", "write"},
		})
		require.Equal(t, http.StatusOK, status)
		require.Contains(t, string(body), "write")
	})

	t.Run("non-admin cannot change scopes", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPatch, "/v1/api-keys/"+keyID, bearer, map[string]any{
			"scopes": []string{"admin"},
		})
		require.Equal(t, http.StatusForbidden, status)
	})

	t.Run("unknown key 404", func(t *testing.T) {
		status, _ := env.request(t, http.MethodGet, "/v1/api-keys/missing", env.admin, nil)
		require.Equal(t, http.StatusNotFound, status)
	})
}

func TestTokenFlow(t *testing.T) {
	env := newTestEnv(t)
	_, bearer := env.createKey(t, []string{"read"}, 10, 100)

	status, body := env.request(t, http.MethodPost, "/v1/tokens", bearer, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var minted struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(body, &minted))
	require.Equal(t, "Bearer", minted.TokenType)
	require.NotEmpty(t, minted.AccessToken)

	// The token stands in for the credential on gated routes.
	status, _ = env.request(t, http.MethodGet, "/v1/emails/unread", minted.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = env.request(t, http.MethodGet, "/v1/emails/unread", "tampered"+minted.AccessToken, nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.request(t, http.MethodGet, "/livez", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), `"status":"ok"`)

	status, body = env.request(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, string(body), `"audit_dropped":0`)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.request(t, http.MethodPut, "/v1/emails", env.admin, nil)
	require.Equal(t, http.StatusMethodNotAllowed, status)
}
