// Package handlers provides the HTTP handlers for the x32mgr API.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/internal/scene"
	"github.com/stagelink/x32mgr/internal/session"
	"github.com/stagelink/x32mgr/internal/store"
)

// Response represents a standard API response wrapper.
//
// All API responses follow this structure for consistency:
//   - Status indicates the overall result ("ok", "error")
//   - Timestamp provides response time for debugging and caching
//   - Data contains the response payload (optional)
//   - Error contains error details when Status indicates failure (optional)
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// invalidFilenameResponse is the fixed shape returned when the filename
// sanitizer rejects input. Deliberately free of any path detail.
type invalidFilenameResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
//
// Encoding is done to a buffer first so an encoding failure can still be
// answered before any headers went out.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// respondOK writes a 200 with the standard envelope.
func respondOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, Response{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// respondError maps a domain error to a status code and writes the standard
// envelope. Filesystem paths and internal detail never reach the client.
func respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrPathEscape) {
		// The sanitizer's rejection has its own fixed shape.
		writeJSON(w, http.StatusBadRequest, invalidFilenameResponse{
			Success: false,
			Error:   "Invalid filename",
		})
		return
	}

	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrUnsupported):
		status, msg = http.StatusBadRequest, "operation not supported"
	case errors.Is(err, store.ErrBusy):
		status, msg = http.StatusConflict, "file is busy"
	case errors.Is(err, session.ErrTimeout):
		status, msg = http.StatusGatewayTimeout, "console did not answer"
	case errors.Is(err, session.ErrCanceled):
		status, msg = http.StatusRequestTimeout, "operation canceled"
	case errors.Is(err, session.ErrTransportClosed), errors.Is(err, scene.ErrSessionLost):
		status, msg = http.StatusBadGateway, "console session lost"
	case errors.Is(err, session.ErrBindFailed):
		status, msg = http.StatusBadGateway, "could not bind console socket"
	case errors.Is(err, scene.ErrBadHeader):
		status, msg = http.StatusBadRequest, "malformed scene file"
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", logger.KeyError, err.Error())
	}

	writeJSON(w, status, Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     msg,
	})
}

// requestResult classifies an operation's error for the request counter.
func requestResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// respondNoSession answers requests that need a console session when none is
// established yet.
func respondNoSession(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     "no console session; connect first",
	})
}
