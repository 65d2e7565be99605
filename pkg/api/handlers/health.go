package handlers

import (
	"net/http"
	"time"

	"github.com/stagelink/x32mgr/internal/session"
)

// HealthHandler reports the manager and console session status.
type HealthHandler struct {
	rt Runtime
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(rt Runtime) *HealthHandler {
	return &HealthHandler{rt: rt}
}

// healthData is the payload for GET /health.
type healthData struct {
	State   string        `json:"state"`
	Mode    string        `json:"mode,omitempty"`
	Console *session.Info `json:"console,omitempty"`
}

// Health answers GET /health with the session state and, when known, the
// console identity. The endpoint itself is always 200; state says whether
// the console is reachable.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	data := healthData{State: string(session.StateDisconnected)}

	if sess := h.rt.Session(); sess != nil {
		data.State = string(sess.State())
		data.Mode = string(sess.Mode())
		if info, ok := sess.Identity(); ok {
			data.Console = &info
		}
	}

	status := "healthy"
	if data.State != string(session.StateConnected) {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, Response{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}
