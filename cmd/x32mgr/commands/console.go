package commands

import (
	"context"
	"fmt"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/session"
	"github.com/stagelink/x32mgr/pkg/config"
)

// openSession establishes a console session for a one-shot CLI command.
// The ip flag wins over the configured console; mock wins over both.
func openSession(ctx context.Context, cfg *config.Config, ip string, mock bool) (*session.Session, *events.Bus, error) {
	var tr session.Transport
	switch {
	case mock || cfg.MockMode:
		tr = session.NewMockTransport()
	default:
		if ip == "" {
			ip = cfg.Console.IP
		}
		if ip == "" {
			return nil, nil, fmt.Errorf("no console address: set console.ip in the config or pass --ip")
		}
		udp, err := session.NewUDPTransport(ip, cfg.Console.Port, 0)
		if err != nil {
			return nil, nil, err
		}
		tr = udp
	}

	bus := events.NewBus(0)
	sess := session.New(tr, bus, session.Config{
		IdleWindow:       cfg.Session.IdleWindow,
		ProbeTimeout:     cfg.Session.ProbeTimeout,
		MaxProbeFailures: cfg.Session.ProbeRetries,
		RequestTimeout:   cfg.Session.RequestTimeout,
	})

	if err := sess.Open(ctx); err != nil {
		_ = sess.Close()
		bus.Close()
		return nil, nil, fmt.Errorf("console did not answer the identity probe: %w", err)
	}
	return sess, bus, nil
}
