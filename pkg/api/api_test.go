package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/pkg/config"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()

	cfg := config.GetDefaultConfig()
	dir := t.TempDir()
	cfg.SceneDir = dir
	cfg.BackupDir = dir

	bus := events.NewBus(0)
	rt := NewRuntime(cfg, bus)
	t.Cleanup(func() {
		rt.Close()
		bus.Close()
	})
	return rt
}

func connectMock(t *testing.T, rt *Runtime) {
	t.Helper()
	require.NoError(t, rt.ConnectMock(context.Background()))
}

type envelope struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (int, envelope) {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env),
		"body was: %s", rec.Body.String())
	return rec.Code, env
}

func TestHealthBeforeConnect(t *testing.T) {
	rt := newTestRuntime(t)
	router := NewRouter(rt)

	code, env := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unhealthy", env.Status)

	var data struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "disconnected", data.State)
}

func TestHealthConnected(t *testing.T) {
	rt := newTestRuntime(t)
	connectMock(t, rt)
	router := NewRouter(rt)

	code, env := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", env.Status)

	var data struct {
		State   string `json:"state"`
		Mode    string `json:"mode"`
		Console struct {
			Name     string `json:"name"`
			Firmware string `json:"firmware"`
		} `json:"console"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "connected", data.State)
	assert.Equal(t, "mock", data.Mode)
	assert.Equal(t, "X32-Mock", data.Console.Name)
	assert.Equal(t, "4.08", data.Console.Firmware)
}

func TestConnectMockEndpoint(t *testing.T) {
	rt := newTestRuntime(t)
	router := NewRouter(rt)

	code, env := doJSON(t, router, http.MethodPost, "/x32/connect",
		map[string]any{"mock": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", env.Status)

	code, env = doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", env.Status)
}

func TestConnectRejectsBadIP(t *testing.T) {
	rt := newTestRuntime(t)
	router := NewRouter(rt)

	code, env := doJSON(t, router, http.MethodPost, "/x32/connect",
		map[string]any{"ip": "not-an-ip"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", env.Status)
}

func TestScenesRequireSession(t *testing.T) {
	rt := newTestRuntime(t)
	router := NewRouter(rt)

	code, env := doJSON(t, router, http.MethodGet, "/scenes", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "error", env.Status)
}

func TestSceneSaveListDelete(t *testing.T) {
	rt := newTestRuntime(t)
	connectMock(t, rt)
	router := NewRouter(rt)

	code, env := doJSON(t, router, http.MethodPost, "/scenes",
		map[string]string{"name": "MyMix", "notes": "monitor split"})
	require.Equal(t, http.StatusOK, code, "save failed: %s", env.Error)

	var saved struct {
		Filename string `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &saved))
	assert.Equal(t, "MyMix.scn", saved.Filename)

	code, env = doJSON(t, router, http.MethodGet, "/scenes", nil)
	require.Equal(t, http.StatusOK, code)

	var entries []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Origin string `json:"origin"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &entries))

	// Three seeded console slots plus the saved local file.
	require.Len(t, entries, 4)
	var localID string
	for _, e := range entries {
		if e.Name == "MyMix" {
			localID = e.ID
			assert.Equal(t, "local", e.Origin)
		}
	}
	require.NotEmpty(t, localID, "saved scene missing from catalog")

	code, env = doJSON(t, router, http.MethodGet, "/scenes/"+localID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, router, http.MethodDelete, "/scenes/"+localID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, router, http.MethodGet, "/scenes/"+localID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSceneSaveRejectsBadName(t *testing.T) {
	rt := newTestRuntime(t)
	connectMock(t, rt)
	router := NewRouter(rt)

	req := httptest.NewRequest(http.MethodPost, "/scenes",
		strings.NewReader(`{"name":"../escape"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	// The sanitizer's rejection has a fixed shape with no path detail.
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "Invalid filename", body.Error)
	assert.NotContains(t, rec.Body.String(), "escape")
}

func TestSceneGetUnknown(t *testing.T) {
	rt := newTestRuntime(t)
	connectMock(t, rt)
	router := NewRouter(rt)

	code, env := doJSON(t, router, http.MethodGet, "/scenes/device-99", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", env.Status)
}

func TestBackupListAndMissingFile(t *testing.T) {
	rt := newTestRuntime(t)
	connectMock(t, rt)
	router := NewRouter(rt)

	code, env := doJSON(t, router, http.MethodGet, "/backup", nil)
	require.Equal(t, http.StatusOK, code)

	var files []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &files))
	assert.Empty(t, files)

	req := httptest.NewRequest(http.MethodGet, "/backup/nope.bak", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	code, _ = doJSON(t, router, http.MethodDelete, "/backup/nope.bak", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDiscoverRequiresSubnet(t *testing.T) {
	rt := newTestRuntime(t)
	router := NewRouter(rt)

	code, env := doJSON(t, router, http.MethodGet, "/x32/discover", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error, "subnet")
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wsFrame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wsFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebSocketPingAndStatus(t *testing.T) {
	rt := newTestRuntime(t)
	connectMock(t, rt)
	srv := httptest.NewServer(NewRouter(rt))
	defer srv.Close()

	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	f := readFrame(t, conn)
	assert.Equal(t, "pong", f.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_status"}))
	f = readFrame(t, conn)
	require.Equal(t, "status", f.Type)

	var st struct {
		State string `json:"state"`
		Mode  string `json:"mode"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &st))
	assert.Equal(t, "connected", st.State)
	assert.Equal(t, "mock", st.Mode)
}

func TestWebSocketForwardsBusEvents(t *testing.T) {
	rt := newTestRuntime(t)
	connectMock(t, rt)
	srv := httptest.NewServer(NewRouter(rt))
	defer srv.Close()

	conn := dialWS(t, srv)

	// Handshake first so the subscription is known to be live.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	f := readFrame(t, conn)
	require.Equal(t, "pong", f.Type)

	rt.Bus().Publish(events.KindSceneLoaded, events.SceneLoaded{Slot: 2, Source: "console"})

	f = readFrame(t, conn)
	require.Equal(t, "scene_loaded", f.Type)

	var payload events.SceneLoaded
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, 2, payload.Slot)
	assert.Equal(t, "console", payload.Source)
}

func TestServerStartStop(t *testing.T) {
	rt := newTestRuntime(t)
	cfg := config.GetDefaultConfig()
	cfg.ListenPort = 0 // not actually bound in this test

	srv := NewServer(cfg, rt)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	// Give ListenAndServe a moment to come up, then shut down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
