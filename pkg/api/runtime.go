package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/internal/session"
	"github.com/stagelink/x32mgr/internal/store"
	"github.com/stagelink/x32mgr/pkg/config"
	"github.com/stagelink/x32mgr/pkg/metrics"
)

// Runtime owns the live console session and the stores behind the HTTP and
// WebSocket surfaces. Connecting to a different console swaps the session and
// rebuilds the stores atomically.
type Runtime struct {
	cfg *config.Config
	bus *events.Bus

	Metrics *metrics.ConsoleMetrics

	mu      sync.RWMutex
	session *session.Session
	scenes  *store.Store
	backups *store.Store
}

// NewRuntime creates a runtime with no console session yet. Call Connect (or
// ConnectMock) to establish one; the stores come up with it.
func NewRuntime(cfg *config.Config, bus *events.Bus) *Runtime {
	return &Runtime{cfg: cfg, bus: bus}
}

// Bus returns the event bus shared with the WebSocket hub.
func (rt *Runtime) Bus() *events.Bus { return rt.bus }

// Session returns the current console session, or nil before the first
// connect.
func (rt *Runtime) Session() *session.Session {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.session
}

// Scenes returns the scene store, or nil before the first connect.
func (rt *Runtime) Scenes() *store.Store {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.scenes
}

// Backups returns the backup-directory store, or nil before the first
// connect. When the backup directory equals the scene directory this is the
// same store.
func (rt *Runtime) Backups() *store.Store {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.backups
}

// Connect opens a UDP session to the console at ip:port and rebuilds the
// stores on top of it. An existing session is torn down first.
func (rt *Runtime) Connect(ctx context.Context, ip string, port int) error {
	if port <= 0 {
		port = rt.cfg.Console.Port
	}
	tr, err := session.NewUDPTransport(ip, port, 0)
	if err != nil {
		return err
	}
	return rt.install(ctx, tr)
}

// ConnectMock replaces the console with the in-process simulator.
func (rt *Runtime) ConnectMock(ctx context.Context) error {
	return rt.install(ctx, session.NewMockTransport())
}

func (rt *Runtime) install(ctx context.Context, tr session.Transport) error {
	sess := session.New(tr, rt.bus, session.Config{
		IdleWindow:       rt.cfg.Session.IdleWindow,
		ProbeTimeout:     rt.cfg.Session.ProbeTimeout,
		MaxProbeFailures: rt.cfg.Session.ProbeRetries,
		RequestTimeout:   rt.cfg.Session.RequestTimeout,
	})

	if err := sess.Open(ctx); err != nil {
		// A failed first probe leaves the session connecting; only a bind
		// failure is fatal here.
		if sess.State() == session.StateFailed {
			_ = sess.Close()
			return fmt.Errorf("connect console: %w", err)
		}
		logger.Warn("console not answering yet, session stays up",
			logger.KeyError, err.Error())
	}

	scenes, err := store.New(rt.cfg.SceneDir, sess, rt.bus)
	if err != nil {
		_ = sess.Close()
		return err
	}
	backups := scenes
	if rt.cfg.BackupDir != rt.cfg.SceneDir {
		backups, err = store.New(rt.cfg.BackupDir, sess, rt.bus)
		if err != nil {
			_ = scenes.Close()
			_ = sess.Close()
			return err
		}
	}

	rt.mu.Lock()
	oldSess, oldScenes, oldBackups := rt.session, rt.scenes, rt.backups
	rt.session, rt.scenes, rt.backups = sess, scenes, backups
	rt.mu.Unlock()

	rt.teardown(oldSess, oldScenes, oldBackups)
	return nil
}

// Close tears down the session and stores.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	sess, scenes, backups := rt.session, rt.scenes, rt.backups
	rt.session, rt.scenes, rt.backups = nil, nil, nil
	rt.mu.Unlock()
	rt.teardown(sess, scenes, backups)
}

func (rt *Runtime) teardown(sess *session.Session, scenes, backups *store.Store) {
	if backups != nil && backups != scenes {
		_ = backups.Close()
	}
	if scenes != nil {
		_ = scenes.Close()
	}
	if sess != nil {
		_ = sess.Close()
	}
}
