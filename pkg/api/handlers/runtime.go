package handlers

import (
	"context"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/session"
	"github.com/stagelink/x32mgr/internal/store"
)

// Runtime is the slice of the server runtime the handlers need: the live
// session, the stores, the event bus, and the ability to (re)connect.
type Runtime interface {
	Session() *session.Session
	Scenes() *store.Store
	Backups() *store.Store
	Bus() *events.Bus
	Connect(ctx context.Context, ip string, port int) error
	ConnectMock(ctx context.Context) error
}
