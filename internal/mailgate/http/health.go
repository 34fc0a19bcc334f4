package http

import (
	"net/http"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/gate"
	"github.com/relaypost/mailgate/internal/mailgate/store"
	"github.com/relaypost/mailgate/pkg/httpx"
)

type healthChecks struct {
	Database     string `json:"database"`
	AuditDropped uint64 `json:"audit_dropped"`
}

type healthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *healthChecks `json:"checks,omitempty"`
}

// LivezHandler returns 200 whenever the process is up.
func LivezHandler(version string, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler checks the credential store and surfaces the count of
// audit records that failed to persist.
func ReadyzHandler(st store.Store, audit *gate.Recorder) http.HandlerFunc {
	startTime := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &healthChecks{
			Database:     "ok",
			AuditDropped: audit.Dropped(),
		}
		status := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, healthResponse{
			Status: status,
			Uptime: time.Since(startTime).String(),
			Checks: checks,
		})
	}
}
