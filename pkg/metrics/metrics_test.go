package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *ConsoleMetrics
	assert.NotPanics(t, func() {
		m.RecordRequest("ok")
		m.ObserveTransfer("import", time.Second)
		m.RecordMissing(3)
	})
}

func TestHandlerAfterInit(t *testing.T) {
	InitRegistry()
	assert.True(t, IsEnabled())

	m := NewConsoleMetrics()
	m.RecordRequest("ok")
	m.RecordRequest("timeout")
	m.ObserveTransfer("export_scene", 2*time.Second)
	m.RecordMissing(1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "x32mgr_osc_requests_total")
	assert.Contains(t, body, "x32mgr_transfer_duration_seconds")
	assert.Contains(t, body, "x32mgr_export_missing_parameters_total")
}
