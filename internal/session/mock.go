package session

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/stagelink/x32mgr/internal/osc"
)

var (
	sceneNameRe   = regexp.MustCompile(`^/-show/showfile/scene/(\d{3})/name$`)
	sceneNotesRe  = regexp.MustCompile(`^/-show/showfile/scene/(\d{3})/notes$`)
	snippetNameRe = regexp.MustCompile(`^/-show/showfile/snippet/(\d{3})/name$`)
)

// MockTransport satisfies Transport without a console on the wire. It parses
// each sent datagram and synthesizes the reply the console would give:
// identity for /xinfo, stored values for parameter queries, silence for sets.
//
// Tests shape its behavior through Latency, DropFunc, and the parameter map;
// development runs get plausible defaults.
type MockTransport struct {
	// Identity returned for /xinfo.
	IP       string
	Name     string
	Model    string
	Firmware string

	// Latency delays each synthesized reply. Zero replies synchronously
	// from Send, which keeps tests deterministic.
	Latency time.Duration

	// DropFunc, when set, suppresses the reply for a request. It receives
	// the address and the 1-based count of requests seen for that address.
	DropFunc func(address string, attempt int) bool

	mu       sync.Mutex
	params   map[string][]osc.Value
	seen     map[string]int
	sent     []osc.Message
	current  int
	receiver Receiver
	closed   bool
}

// NewMockTransport creates a mock with a plausible console identity and a
// few populated scene slots.
func NewMockTransport() *MockTransport {
	m := &MockTransport{
		IP:       "192.168.1.32",
		Name:     "X32-Mock",
		Model:    "X32",
		Firmware: "4.08",
		params:   make(map[string][]osc.Value),
		seen:     make(map[string]int),
		current:  0,
	}
	m.SetSceneSlot(0, "Init", "Boot scene")
	m.SetSceneSlot(1, "Soundcheck", "")
	m.SetSceneSlot(2, "Main Show", "House mix")
	return m
}

// SetSceneSlot seeds a scene slot's name and notes.
func (m *MockTransport) SetSceneSlot(slot int, name, notes string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[fmt.Sprintf("/-show/showfile/scene/%03d/name", slot)] = []osc.Value{osc.String(name)}
	m.params[fmt.Sprintf("/-show/showfile/scene/%03d/notes", slot)] = []osc.Value{osc.String(notes)}
}

// SetParam seeds an arbitrary parameter value.
func (m *MockTransport) SetParam(address string, args ...osc.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[address] = args
}

// Sent returns a copy of every set-message (messages carrying arguments)
// received so far, in arrival order.
func (m *MockTransport) Sent() []osc.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]osc.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// SetReceiver installs the decoded-message sink.
func (m *MockTransport) SetReceiver(r Receiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiver = r
}

// Open is a no-op; the mock is always ready.
func (m *MockTransport) Open() error { return nil }

// Send parses the datagram and synthesizes the console's reply.
func (m *MockTransport) Send(b []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrTransportClosed
	}
	m.mu.Unlock()

	msgs, err := osc.Decode(b)
	if err != nil {
		// A real console ignores garbage; so does the mock.
		return nil
	}

	for _, msg := range msgs {
		m.handle(msg)
	}
	return nil
}

func (m *MockTransport) handle(msg osc.Message) {
	m.mu.Lock()

	if len(msg.Args) > 0 {
		// Set-command. Record it, update state, reply with nothing --
		// except scene recall, which the console acknowledges by
		// broadcasting the new current-scene pointer.
		m.sent = append(m.sent, msg)
		m.params[msg.Address] = msg.Args

		if msg.Address == "/-action/goscene" && msg.Args[0].Kind == osc.KindInt32 {
			m.current = int(msg.Args[0].Int)
			recv := m.receiver
			cur := m.current
			m.mu.Unlock()
			m.deliver(recv, osc.NewMessage("/-show/prepos/current", osc.Int(int32(cur))))
			return
		}
		m.mu.Unlock()
		return
	}

	// Query. Count it, maybe drop it, then reply.
	m.seen[msg.Address]++
	attempt := m.seen[msg.Address]
	recv := m.receiver
	drop := m.DropFunc
	reply := m.replyFor(msg.Address)
	m.mu.Unlock()

	if drop != nil && drop(msg.Address, attempt) {
		return
	}
	if recv == nil {
		return
	}
	m.deliver(recv, reply)
}

// replyFor builds the reply message for a query. Called with the lock held.
func (m *MockTransport) replyFor(address string) osc.Message {
	switch {
	case address == "/xinfo":
		return osc.NewMessage(address,
			osc.String(m.IP), osc.String(m.Name), osc.String(m.Model), osc.String(m.Firmware))
	case address == "/-show/prepos/current":
		return osc.NewMessage(address, osc.Int(int32(m.current)))
	}

	if stored, ok := m.params[address]; ok {
		return osc.NewMessage(address, stored...)
	}

	// Unqueried slots answer with an empty name, like a console with an
	// unused slot.
	if sceneNameRe.MatchString(address) || sceneNotesRe.MatchString(address) ||
		snippetNameRe.MatchString(address) {
		return osc.NewMessage(address, osc.String(""))
	}

	// Everything else gets a deterministic synthetic value keyed on the
	// address so export round-trips are reproducible.
	if looksLikeLevel(address) {
		return osc.NewMessage(address, osc.Float(hashLevel(address)))
	}
	return osc.NewMessage(address, osc.Int(0))
}

func (m *MockTransport) deliver(recv Receiver, msg osc.Message) {
	if m.Latency > 0 {
		go func() {
			time.Sleep(m.Latency)
			recv(msg)
		}()
		return
	}
	recv(msg)
}

// Close marks the mock closed. Idempotent.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Mode reports ModeMock.
func (m *MockTransport) Mode() Mode { return ModeMock }

// RemoteAddr reports the synthetic console endpoint.
func (m *MockTransport) RemoteAddr() string { return m.IP + ":10023" }

// looksLikeLevel reports whether an address names a continuous control.
func looksLikeLevel(address string) bool {
	for _, suffix := range []string{"/fader", "/level", "/gain", "/pan", "/trim"} {
		if len(address) >= len(suffix) && address[len(address)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

// hashLevel derives a stable fader-range value in [0, 1] from the address.
func hashLevel(address string) float32 {
	var h uint32 = 2166136261
	for i := 0; i < len(address); i++ {
		h ^= uint32(address[i])
		h *= 16777619
	}
	return float32(h%1001) / 1000.0
}
