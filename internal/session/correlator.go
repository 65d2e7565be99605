package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stagelink/x32mgr/internal/logger"
	"github.com/stagelink/x32mgr/internal/osc"
)

// The console echoes a request's address on the reply, so the reply address is
// the correlation key. Addresses the console emits without being asked are
// whitelisted and forwarded to the spontaneous handler instead of dropped.
var spontaneousAddrs = map[string]struct{}{
	"/-show/prepos/current": {},
}

type result struct {
	args []osc.Value
	err  error
}

// waiter is one pending request for an address. Only the queue head has been
// sent to the console; the rest hold their encoded packet until dispatched.
type waiter struct {
	packet []byte
	ch     chan result
}

// Correlator turns the reply-less UDP channel into request/reply RPC keyed by
// reply address.
//
// Duplicate-address policy: strict serialization. A second request for an
// address queues fairly behind the outstanding one and is dispatched when the
// head resolves. Callers never observe a busy error; the sweep engine relies
// on this to keep retried addresses ordered.
type Correlator struct {
	tr Transport

	mu      sync.Mutex
	pending map[string][]*waiter
	closed  bool

	// spontaneous receives whitelisted unsolicited messages.
	// Set once before traffic starts; called off the correlator lock.
	spontaneous func(osc.Message)
}

// NewCorrelator creates a correlator sending through tr.
// Install HandleMessage as the transport receiver (the session does this).
func NewCorrelator(tr Transport) *Correlator {
	return &Correlator{
		tr:      tr,
		pending: make(map[string][]*waiter),
	}
}

// SetSpontaneousHandler installs the sink for whitelisted unsolicited
// messages, such as the console reporting a scene recall.
func (c *Correlator) SetSpontaneousHandler(fn func(osc.Message)) {
	c.spontaneous = fn
}

// Request sends a query and blocks until the matching reply, the timeout, or
// ctx cancellation. Args may be nil for plain queries.
func (c *Correlator) Request(ctx context.Context, address string, args []osc.Value, timeout time.Duration) ([]osc.Value, error) {
	packet, err := osc.Encode(osc.NewMessage(address, args...))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", address, err)
	}

	w := &waiter{packet: packet, ch: make(chan result, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrTransportClosed
	}
	c.pending[address] = append(c.pending[address], w)
	isHead := len(c.pending[address]) == 1
	c.mu.Unlock()

	if isHead {
		if err := c.tr.Send(packet); err != nil {
			next := c.remove(address, w)
			c.dispatch(address, next)
			return nil, err
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-w.ch:
		return res.args, res.err
	case <-timer.C:
		if res, ok := c.settleLate(address, w); ok {
			return res.args, res.err
		}
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, address, timeout)
	case <-ctx.Done():
		if res, ok := c.settleLate(address, w); ok {
			return res.args, res.err
		}
		return nil, ErrCanceled
	}
}

// settleLate removes w from the queue after a timeout or cancellation.
// If the reply raced in before removal, it is consumed and returned instead.
func (c *Correlator) settleLate(address string, w *waiter) (result, bool) {
	next := c.remove(address, w)
	c.dispatch(address, next)

	select {
	case res := <-w.ch:
		return res, true
	default:
		return result{}, false
	}
}

// remove deletes w from the address queue. When w was the in-flight head and
// another waiter is queued, that waiter's packet is returned for dispatch.
func (c *Correlator) remove(address string, w *waiter) (next *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.pending[address]
	for i, cand := range q {
		if cand != w {
			continue
		}
		q = append(q[:i], q[i+1:]...)
		if len(q) == 0 {
			delete(c.pending, address)
		} else {
			c.pending[address] = q
			if i == 0 {
				next = q[0]
			}
		}
		break
	}
	return next
}

// dispatch sends a newly promoted queue head, failing it on transport error.
func (c *Correlator) dispatch(address string, w *waiter) {
	if w == nil {
		return
	}
	if err := c.tr.Send(w.packet); err != nil {
		next := c.remove(address, w)
		w.ch <- result{err: err}
		c.dispatch(address, next)
	}
}

// HandleMessage matches an incoming message against the pending table.
// Unmatched messages on the spontaneous whitelist go to the handler;
// everything else is dropped.
func (c *Correlator) HandleMessage(m osc.Message) {
	c.mu.Lock()
	q := c.pending[m.Address]
	var head, next *waiter
	if len(q) > 0 {
		head = q[0]
		q = q[1:]
		if len(q) == 0 {
			delete(c.pending, m.Address)
		} else {
			c.pending[m.Address] = q
			next = q[0]
		}
	}
	c.mu.Unlock()

	if head == nil {
		if _, ok := spontaneousAddrs[m.Address]; ok && c.spontaneous != nil {
			c.spontaneous(m)
			return
		}
		logger.Debug("dropping unmatched reply", logger.KeyAddress, m.Address)
		return
	}

	head.ch <- result{args: m.Args}
	c.dispatch(m.Address, next)
}

// PendingCount reports outstanding requests, for diagnostics.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.pending {
		n += len(q)
	}
	return n
}

// Shutdown fails every pending request with ErrTransportClosed and rejects
// new ones. Called when the transport closes.
func (c *Correlator) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string][]*waiter)
	c.mu.Unlock()

	for _, q := range pending {
		for _, w := range q {
			w.ch <- result{err: ErrTransportClosed}
		}
	}
}
