package engine

import (
	"net/http"
	"os"
	"time"

	"github.com/invigo-mfg/invigo-server/pkg/health"
)

// SystemHandlers serves liveness and readiness.
type SystemHandlers struct {
	engine *Engine
}

// NewSystemHandlers creates the system handler group.
func NewSystemHandlers(engine *Engine) *SystemHandlers {
	return &SystemHandlers{engine: engine}
}

// Ping is pure liveness: it never touches the database.
func (h *SystemHandlers) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.engine.startedAt).Seconds()),
		"pid":            os.Getpid(),
		"hostname":       hostname,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Health runs every registered check. 503 when any repository is unreachable.
func (h *SystemHandlers) Health(w http.ResponseWriter, r *http.Request) {
	checks := h.engine.health.RunAll()
	overall := h.engine.health.GetOverallStatus()

	detail := make(map[string]interface{}, len(checks))
	for _, check := range checks {
		detail[check.Name] = map[string]interface{}{
			"status":       check.Status,
			"message":      check.Message,
			"last_checked": check.LastChecked.UTC().Format(time.RFC3339),
		}
	}

	status := http.StatusOK
	if overall != health.StatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status": overall,
		"checks": detail,
	})
}
