package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/internal/osc"
)

// State is the session connection state observed by the event bus.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Config tunes the session's liveness machinery.
type Config struct {
	// IdleWindow is how long the session tolerates silence from the console
	// before re-probing. Defaults to 10s; production configs should not go
	// below that.
	IdleWindow time.Duration

	// ProbeTimeout bounds each /xinfo identity probe.
	ProbeTimeout time.Duration

	// MaxProbeFailures is how many consecutive failed probes move the
	// session to the failed state.
	MaxProbeFailures int

	// RequestTimeout is the default per-request deadline when callers pass
	// zero to Request.
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.IdleWindow <= 0 {
		c.IdleWindow = 10 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.MaxProbeFailures <= 0 {
		c.MaxProbeFailures = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 500 * time.Millisecond
	}
}

// Info is the console identity returned by /xinfo.
type Info struct {
	IP       string `json:"ip"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
}

// Session maintains one live control session with a console: it owns the
// transport and correlator, runs the liveness watchdog, and publishes state
// transitions and spontaneous scene recalls on the event bus.
type Session struct {
	tr   Transport
	corr *Correlator
	bus  *events.Bus
	cfg  Config

	lastRx atomic.Int64 // unix nanos of last received datagram

	mu       sync.Mutex
	state    State
	info     Info
	failures int

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a session over the given transport. Call Open to connect.
func New(tr Transport, bus *events.Bus, cfg Config) *Session {
	cfg.applyDefaults()

	s := &Session{
		tr:    tr,
		corr:  NewCorrelator(tr),
		bus:   bus,
		cfg:   cfg,
		state: StateDisconnected,
		stop:  make(chan struct{}),
	}

	tr.SetReceiver(func(m osc.Message) {
		s.lastRx.Store(time.Now().UnixNano())
		s.corr.HandleMessage(m)
	})

	s.corr.SetSpontaneousHandler(func(m osc.Message) {
		if m.Address == "/-show/prepos/current" && len(m.Args) == 1 && m.Args[0].Kind == osc.KindInt32 {
			slot := int(m.Args[0].Int)
			logger.Info("console recalled scene", logger.KeySlot, slot)
			if s.bus != nil {
				s.bus.Publish(events.KindSceneLoaded, events.SceneLoaded{Slot: slot, Source: "console"})
			}
		}
	})

	return s
}

// Open binds the transport, probes the console identity, and starts the idle
// watchdog. The state sequence on success is connecting, connected.
func (s *Session) Open(ctx context.Context) error {
	if err := s.tr.Open(); err != nil {
		s.setState(StateFailed)
		return err
	}

	s.setState(StateConnecting)

	if err := s.probe(ctx); err != nil {
		// Open reports the failed first probe but the watchdog keeps
		// retrying until MaxProbeFailures.
		s.startWatchdog()
		return fmt.Errorf("identity probe: %w", err)
	}

	s.startWatchdog()
	return nil
}

// probe issues one /xinfo and applies the result to the state machine.
func (s *Session) probe(ctx context.Context) error {
	args, err := s.corr.Request(ctx, "/xinfo", nil, s.cfg.ProbeTimeout)
	if err != nil {
		s.mu.Lock()
		s.failures++
		failed := s.failures >= s.cfg.MaxProbeFailures
		s.mu.Unlock()

		if failed {
			s.setState(StateFailed)
		}
		return err
	}

	info := Info{}
	if len(args) >= 4 {
		info = Info{
			IP:       args[0].Str,
			Name:     args[1].Str,
			Model:    args[2].Str,
			Firmware: args[3].Str,
		}
	}

	s.mu.Lock()
	s.failures = 0
	s.info = info
	s.mu.Unlock()

	s.setState(StateConnected)
	return nil
}

// startWatchdog launches the idle monitor. Mock transports skip it: the mock
// is always live and periodic probes would only pollute its capture.
func (s *Session) startWatchdog() {
	if s.tr.Mode() == ModeMock {
		return
	}

	// Tick fast enough to notice idleness promptly even with short windows.
	tick := s.cfg.IdleWindow / 4
	if tick > time.Second {
		tick = time.Second
	}
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
			}

			if s.State() == StateFailed {
				continue
			}

			last := time.Unix(0, s.lastRx.Load())
			if time.Since(last) < s.cfg.IdleWindow {
				continue
			}

			if s.State() == StateConnected {
				logger.Warn("console went quiet, re-probing",
					"idle", time.Since(last).Round(time.Second).String())
				s.setState(StateConnecting)
			}

			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
			_ = s.probe(ctx)
			cancel()
		}
	}()
}

// setState publishes the transition when the state actually changes.
func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev == next {
		return
	}

	logger.Info("session state changed",
		logger.KeyState, string(next),
		logger.KeyMode, string(s.tr.Mode()),
	)
	if s.bus != nil {
		s.bus.Publish(events.KindStateChange, events.StateChange{
			State: string(next),
			Mode:  string(s.tr.Mode()),
		})
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode reports the transport mode (udp or mock).
func (s *Session) Mode() Mode { return s.tr.Mode() }

// Identity returns the cached console identity from the last successful
// probe. The boolean is false before the first probe succeeds.
func (s *Session) Identity() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.info.Firmware != ""
}

// Request issues one correlated query. A zero timeout uses the configured
// default.
func (s *Session) Request(ctx context.Context, address string, args []osc.Value, timeout time.Duration) ([]osc.Value, error) {
	if timeout <= 0 {
		timeout = s.cfg.RequestTimeout
	}
	return s.corr.Request(ctx, address, args, timeout)
}

// Send transmits one unacknowledged set-command.
func (s *Session) Send(msg osc.Message) error {
	packet, err := osc.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Address, err)
	}
	return s.tr.Send(packet)
}

// Recall asks the console to recall the scene in the given slot.
// The console confirms by broadcasting the new current-scene pointer.
func (s *Session) Recall(slot int) error {
	if slot < 0 || slot > 99 {
		return fmt.Errorf("scene slot %d out of range", slot)
	}
	logger.Info("recalling scene slot", logger.KeySlot, slot)
	return s.Send(osc.NewMessage("/-action/goscene", osc.Int(int32(slot))))
}

// Correlator exposes the request correlator for the sweep engine and store.
func (s *Session) Correlator() *Correlator { return s.corr }

// Close tears the session down: the watchdog stops, every pending request
// fails with ErrTransportClosed, and the socket is released. Idempotent.
func (s *Session) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.corr.Shutdown()
		_ = s.tr.Close()
		s.setState(StateDisconnected)
	})
	return nil
}
