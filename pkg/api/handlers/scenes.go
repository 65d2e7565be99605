package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stagelink/x32mgr/pkg/metrics"
)

// ScenesHandler serves the merged scene catalog: console slots plus local
// scene files.
type ScenesHandler struct {
	rt      Runtime
	metrics *metrics.ConsoleMetrics
}

// NewScenesHandler creates a scenes handler.
func NewScenesHandler(rt Runtime, m *metrics.ConsoleMetrics) *ScenesHandler {
	return &ScenesHandler{rt: rt, metrics: m}
}

// List answers GET /scenes with the merged catalog.
func (h *ScenesHandler) List(w http.ResponseWriter, r *http.Request) {
	st := h.rt.Scenes()
	if st == nil {
		respondNoSession(w)
		return
	}

	entries, err := st.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, entries)
}

// Get answers GET /scenes/{id} with one catalog entry.
func (h *ScenesHandler) Get(w http.ResponseWriter, r *http.Request) {
	st := h.rt.Scenes()
	if st == nil {
		respondNoSession(w)
		return
	}

	entry, err := st.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, entry)
}

// saveRequest is the body for POST /scenes.
type saveRequest struct {
	Name  string `json:"name"`
	Notes string `json:"notes"`
}

// Save answers POST /scenes by writing a header-only scene file.
func (h *ScenesHandler) Save(w http.ResponseWriter, r *http.Request) {
	st := h.rt.Scenes()
	if st == nil {
		respondNoSession(w)
		return
	}

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, Response{
			Status:    "error",
			Timestamp: time.Now().UTC(),
			Error:     "body must be JSON with a non-empty name",
		})
		return
	}

	filename, err := st.Save(req.Name, req.Notes)
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, map[string]string{"filename": filename})
}

// Delete answers DELETE /scenes/{id}.
func (h *ScenesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	st := h.rt.Scenes()
	if st == nil {
		respondNoSession(w)
		return
	}

	if err := st.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, nil)
}

// Load answers POST /scenes/{id}/load: recall for device slots, import for
// local files.
func (h *ScenesHandler) Load(w http.ResponseWriter, r *http.Request) {
	st := h.rt.Scenes()
	if st == nil {
		respondNoSession(w)
		return
	}

	start := time.Now()
	err := st.Load(r.Context(), chi.URLParam(r, "id"))
	h.metrics.RecordRequest(requestResult(err))
	if err != nil {
		respondError(w, err)
		return
	}
	h.metrics.ObserveTransfer("import", time.Since(start))
	respondOK(w, nil)
}

// Backup answers POST /scenes/{id}/backup by capturing the slot to a local
// file through the export path.
func (h *ScenesHandler) Backup(w http.ResponseWriter, r *http.Request) {
	st := h.rt.Scenes()
	if st == nil {
		respondNoSession(w)
		return
	}

	start := time.Now()
	filename, err := st.Backup(r.Context(), chi.URLParam(r, "id"))
	h.metrics.RecordRequest(requestResult(err))
	if err != nil {
		respondError(w, err)
		return
	}
	h.metrics.ObserveTransfer("export_scene", time.Since(start))
	respondOK(w, map[string]string{"filename": filename})
}
