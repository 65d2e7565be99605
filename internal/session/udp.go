package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/internal/osc"
)

// Socket receive buffer. Exports pull thousands of replies in bursts; the
// default buffer on most systems drops them under load.
const udpReadBufferSize = 1 << 20

// UDPTransport talks OSC-over-UDP to one console endpoint.
//
// A single socket is bound locally; the receive loop polls with a short read
// deadline so shutdown is observed promptly (the same pattern the console's
// own clients use: one datagram in, zero or more datagrams out, no framing).
type UDPTransport struct {
	remote    *net.UDPAddr
	localPort int

	conn         *net.UDPConn
	receiver     Receiver
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup

	mu     sync.Mutex
	opened bool
}

// NewUDPTransport creates a transport targeting ip:port.
// localPort 0 lets the OS pick an ephemeral port.
func NewUDPTransport(ip string, port, localPort int) (*UDPTransport, error) {
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, fmt.Errorf("resolve console address %s:%d: %w", ip, port, err)
	}
	return &UDPTransport{
		remote:    remote,
		localPort: localPort,
		shutdown:  make(chan struct{}),
	}, nil
}

// SetReceiver installs the decoded-message sink. Must precede Open.
func (t *UDPTransport) SetReceiver(r Receiver) {
	t.receiver = r
}

// Open binds the local socket and starts the receive loop.
func (t *UDPTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.opened {
		return nil
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: t.localPort})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	if err := conn.SetReadBuffer(udpReadBufferSize); err != nil {
		logger.Debug("failed to enlarge UDP read buffer", logger.KeyError, err.Error())
	}

	t.conn = conn
	t.opened = true

	t.wg.Add(1)
	go t.receiveLoop()

	logger.Info("console transport open",
		logger.KeyConsoleIP, t.remote.IP.String(),
		logger.KeyConsolePort, t.remote.Port,
		"local", conn.LocalAddr().String(),
	)
	return nil
}

// Send transmits one datagram to the console. Best-effort; no retry here.
func (t *UDPTransport) Send(b []byte) error {
	t.mu.Lock()
	conn := t.conn
	opened := t.opened
	t.mu.Unlock()

	if !opened || conn == nil {
		return ErrTransportClosed
	}
	select {
	case <-t.shutdown:
		return ErrTransportClosed
	default:
	}

	if _, err := conn.WriteToUDP(b, t.remote); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return nil
}

// receiveLoop reads datagrams, decodes them, and hands each message to the
// receiver. Decode errors are logged and dropped; they never stop the loop.
func (t *UDPTransport) receiveLoop() {
	defer t.wg.Done()

	buf := make([]byte, 65535)

	for {
		select {
		case <-t.shutdown:
			return
		default:
		}

		// Short deadline so shutdown is checked periodically.
		if err := t.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			select {
			case <-t.shutdown:
				return
			default:
				logger.Debug("set UDP read deadline failed", logger.KeyError, err.Error())
				continue
			}
		}

		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-t.shutdown:
				return
			default:
				logger.Debug("UDP read error", logger.KeyError, err.Error())
				continue
			}
		}

		msgs, err := osc.Decode(buf[:n])
		if err != nil {
			logger.Debug("dropping malformed datagram",
				"source", src.String(),
				"bytes", n,
				logger.KeyError, err.Error(),
			)
			continue
		}

		if t.receiver == nil {
			continue
		}
		for _, m := range msgs {
			t.receiver(m)
		}
	}
}

// Close cancels the receive loop and releases the socket. Idempotent.
func (t *UDPTransport) Close() error {
	t.shutdownOnce.Do(func() {
		close(t.shutdown)
		t.mu.Lock()
		if t.conn != nil {
			_ = t.conn.Close()
		}
		t.opened = false
		t.mu.Unlock()
		t.wg.Wait()
		logger.Debug("console transport closed", logger.KeyConsoleIP, t.remote.IP.String())
	})
	return nil
}

// Mode reports ModeUDP.
func (t *UDPTransport) Mode() Mode { return ModeUDP }

// RemoteAddr returns the console endpoint as ip:port.
func (t *UDPTransport) RemoteAddr() string { return t.remote.String() }
