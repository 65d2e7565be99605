package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/stagelink/x32mgr/internal/discovery"
)

// ConsoleHandler serves console discovery and connection management.
type ConsoleHandler struct {
	rt Runtime
}

// NewConsoleHandler creates a console handler.
func NewConsoleHandler(rt Runtime) *ConsoleHandler {
	return &ConsoleHandler{rt: rt}
}

// Discover answers GET /x32/discover?subnet=192.168.1.0/24 by probing the
// subnet for consoles. The probe runs within the request context.
func (h *ConsoleHandler) Discover(w http.ResponseWriter, r *http.Request) {
	subnet := r.URL.Query().Get("subnet")
	if subnet == "" {
		writeJSON(w, http.StatusBadRequest, Response{
			Status:    "error",
			Timestamp: time.Now().UTC(),
			Error:     "subnet query parameter is required (CIDR, e.g. 192.168.1.0/24)",
		})
		return
	}

	port := 0
	if p := r.URL.Query().Get("port"); p != "" {
		port, _ = strconv.Atoi(p)
	}

	timeout := time.Second
	if t := r.URL.Query().Get("timeout"); t != "" {
		if d, err := time.ParseDuration(t); err == nil && d > 0 {
			timeout = d
		}
	}

	consoles, err := discovery.Probe(r.Context(), subnet, port, timeout)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{
			Status:    "error",
			Timestamp: time.Now().UTC(),
			Error:     err.Error(),
		})
		return
	}
	if consoles == nil {
		consoles = []discovery.Console{}
	}
	respondOK(w, consoles)
}

// connectRequest is the body for POST /x32/connect.
type connectRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
	Mock bool   `json:"mock"`
}

// Connect answers POST /x32/connect by establishing a session with the
// console (or the in-process simulator when mock is set).
func (h *ConsoleHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{
			Status:    "error",
			Timestamp: time.Now().UTC(),
			Error:     "body must be JSON",
		})
		return
	}

	if req.Mock {
		if err := h.rt.ConnectMock(r.Context()); err != nil {
			respondError(w, err)
			return
		}
		respondOK(w, map[string]string{"mode": "mock"})
		return
	}

	if net.ParseIP(req.IP) == nil {
		writeJSON(w, http.StatusBadRequest, Response{
			Status:    "error",
			Timestamp: time.Now().UTC(),
			Error:     "ip must be a valid IP address",
		})
		return
	}

	if err := h.rt.Connect(r.Context(), req.IP, req.Port); err != nil {
		respondError(w, err)
		return
	}

	data := map[string]interface{}{"ip": req.IP}
	if sess := h.rt.Session(); sess != nil {
		if info, ok := sess.Identity(); ok {
			data["console"] = info
		}
	}
	respondOK(w, data)
}
