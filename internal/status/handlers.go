package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/esn-edge-sensor/internal/device"
)

// Check results reported in Health.Checks.
const (
	checkOK       = "ok"
	checkSleeping = "sleeping"
	checkMQTT     = "mqtt"
)

// Health is the /health response body.
type Health struct {
	device.Status
	MQTTConnected bool              `json:"mqtt_connected"`
	Checks        map[string]string `json:"checks"`
}

// handleHealth reports 503 when a dependency check fails. The broker
// connection is torn down on purpose during deep sleep, so a failed MQTT
// check while sleeping still counts as healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	health := Health{
		Status:        s.device.Status(),
		MQTTConnected: s.mqtt.IsConnected(),
		Checks:        make(map[string]string, len(s.checks)+1),
	}
	healthy := true

	switch err := s.mqtt.HealthCheck(ctx); {
	case err == nil:
		health.Checks[checkMQTT] = checkOK
	case health.Sleeping:
		health.Checks[checkMQTT] = checkSleeping
	default:
		health.Checks[checkMQTT] = err.Error()
		healthy = false
	}

	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			health.Checks[name] = err.Error()
			healthy = false
			continue
		}
		health.Checks[name] = checkOK
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write; the client may be gone
	json.NewEncoder(w).Encode(v)
}

// statusWriter captures the response code for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs each request at debug; scrapers poll often.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// recoveryMiddleware turns a handler panic into a 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
