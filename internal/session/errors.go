package session

import "errors"

// Sentinel errors surfaced by the transport, correlator, and sweep engine.
// Callers match with errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrBindFailed indicates the UDP socket could not be acquired.
	ErrBindFailed = errors.New("session: bind failed")

	// ErrTransportClosed indicates a send on a closed transport, or a pending
	// request cancelled by transport shutdown.
	ErrTransportClosed = errors.New("session: transport closed")

	// ErrTimeout indicates a per-request deadline elapsed with no reply.
	ErrTimeout = errors.New("session: request timed out")

	// ErrCanceled indicates the caller's cancellation signal was observed.
	// Sweep returns it together with the partial result gathered so far.
	ErrCanceled = errors.New("session: canceled")
)
