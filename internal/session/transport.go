package session

import "github.com/stagelink/x32mgr/internal/osc"

// Mode identifies the transport implementation behind a session.
type Mode string

const (
	ModeUDP  Mode = "udp"
	ModeMock Mode = "mock"
)

// Receiver consumes decoded messages from a transport's receive loop.
// Implementations must not block; they run on the receive goroutine.
type Receiver func(msg osc.Message)

// Transport owns one datagram channel to a console. The UDP implementation
// binds a real socket; the mock synthesizes replies for development and tests.
type Transport interface {
	// Open acquires the channel and starts the receive loop.
	// Fails with ErrBindFailed when the socket cannot be bound.
	Open() error

	// Send transmits one encoded datagram, best-effort and fire-and-forget.
	// No retry happens at this layer.
	Send(b []byte) error

	// SetReceiver installs the decoded-message sink. Must be called before
	// Open. Decode failures are logged and dropped inside the transport;
	// they never reach the receiver and never stop the loop.
	SetReceiver(r Receiver)

	// Close is idempotent. It cancels the receive loop and releases the
	// channel; subsequent sends fail with ErrTransportClosed.
	Close() error

	// Mode reports the transport implementation.
	Mode() Mode

	// RemoteAddr describes the console endpoint, for logging.
	RemoteAddr() string
}
