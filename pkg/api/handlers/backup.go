package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stagelink/x32mgr/internal/scene"
	"github.com/stagelink/x32mgr/pkg/metrics"
)

// BackupHandler serves full-console backups: the sandbox file listing, the
// full export, and loading or deleting stored files.
type BackupHandler struct {
	rt      Runtime
	metrics *metrics.ConsoleMetrics
}

// NewBackupHandler creates a backup handler.
func NewBackupHandler(rt Runtime, m *metrics.ConsoleMetrics) *BackupHandler {
	return &BackupHandler{rt: rt, metrics: m}
}

// List answers GET /backup with the sandbox file listing.
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	st := h.rt.Backups()
	if st == nil {
		respondNoSession(w)
		return
	}

	files, err := st.ListFiles()
	if err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, files)
}

// fullRequest is the optional body for POST /backup/full.
type fullRequest struct {
	Name string `json:"name"`
}

// fullResult is the payload answering a finished full export.
type fullResult struct {
	Filename       string `json:"filename"`
	ParameterCount int    `json:"parameter_count"`
	ErrorCount     int    `json:"error_count"`
	DurationMs     int64  `json:"duration_ms"`
}

// Full answers POST /backup/full by sweeping the entire console into a .bak
// file. This is a long call; the route group carries a generous timeout.
func (h *BackupHandler) Full(w http.ResponseWriter, r *http.Request) {
	sess := h.rt.Session()
	st := h.rt.Backups()
	if sess == nil || st == nil {
		respondNoSession(w)
		return
	}

	var req fullRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional

	name := req.Name
	if name == "" {
		name = "backup_" + time.Now().UTC().Format("20060102_150405")
	}

	exporter := &scene.Exporter{Session: sess, Bus: h.rt.Bus()}
	res, err := exporter.ExportConsoleBackup(r.Context(), scene.Meta{Name: name}, nil)
	h.metrics.RecordRequest(requestResult(err))
	if err != nil {
		respondError(w, err)
		return
	}
	h.metrics.ObserveTransfer("export_backup", res.Duration)
	h.metrics.RecordMissing(res.ErrorCount)

	filename, err := st.SaveFile(name+".bak", res.Bytes)
	if err != nil {
		respondError(w, err)
		return
	}

	respondOK(w, fullResult{
		Filename:       filename,
		ParameterCount: res.ParameterCount,
		ErrorCount:     res.ErrorCount,
		DurationMs:     res.Duration.Milliseconds(),
	})
}

// loadResult is the payload answering a finished import.
type loadResult struct {
	ParameterCount   int   `json:"parameter_count"`
	SkippedCount     int   `json:"skipped_count"`
	DurationMs       int64 `json:"duration_ms"`
	FirmwareMismatch bool  `json:"firmware_mismatch"`
	LoadUncertain    bool  `json:"load_uncertain"`
}

// Load answers POST /backup/{filename}/load by pushing a stored file to the
// console.
func (h *BackupHandler) Load(w http.ResponseWriter, r *http.Request) {
	sess := h.rt.Session()
	st := h.rt.Backups()
	if sess == nil || st == nil {
		respondNoSession(w)
		return
	}

	data, err := st.ReadFile(chi.URLParam(r, "filename"))
	if err != nil {
		respondError(w, err)
		return
	}

	importer := &scene.Importer{Session: sess, Bus: h.rt.Bus()}
	res, err := importer.Import(r.Context(), data, nil)
	h.metrics.RecordRequest(requestResult(err))
	if err != nil {
		respondError(w, err)
		return
	}
	h.metrics.ObserveTransfer("import", res.Duration)

	respondOK(w, loadResult{
		ParameterCount:   res.ParameterCount,
		SkippedCount:     res.SkippedCount,
		DurationMs:       res.Duration.Milliseconds(),
		FirmwareMismatch: res.FirmwareMismatch,
		LoadUncertain:    res.LoadUncertain,
	})
}

// Delete answers DELETE /backup/{filename}.
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	st := h.rt.Backups()
	if st == nil {
		respondNoSession(w)
		return
	}

	if err := st.DeleteFile(chi.URLParam(r, "filename")); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w, nil)
}

// Download answers GET /backup/{filename} with the raw file bytes, so a
// browser can save a console-ready file.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	st := h.rt.Backups()
	if st == nil {
		respondNoSession(w)
		return
	}

	name := chi.URLParam(r, "filename")
	data, err := st.ReadFile(name)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(data)
}
