package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TelemetrySink short-circuits client telemetry and metrics uploads with a
// success response. Clients pointed at the proxy still fire these calls;
// answering locally keeps them from retrying or leaking usage data upstream.
type TelemetrySink struct {
	logger *slog.Logger
}

func NewTelemetrySink(logger *slog.Logger) func(http.Handler) http.Handler {
	ts := &TelemetrySink{logger: logger}

	return ts.middleware
}

func (ts *TelemetrySink) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			host = r.Header.Get("Host")
		}

		if ts.isTelemetryRequest(host, r.URL.Path) {
			ts.logger.Debug("absorbed telemetry request", "host", host, "path", r.URL.Path)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"success":true}`))

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (ts *TelemetrySink) isTelemetryRequest(host, path string) bool {
	if strings.Contains(host, "statsig") {
		return true
	}

	telemetryPaths := []string{
		"/v1/initialize",
		"/v1/log_event",
		"/v1/rgstr",
		"/statsig",
		"/telemetry",
		"/analytics",
		"/api/claude_code/metrics",
	}

	for _, p := range telemetryPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}

	return false
}
