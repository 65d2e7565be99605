package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelink/x32mgr/internal/events"
	"github.com/stagelink/x32mgr/internal/osc"
)

// scriptTransport records outgoing queries and replies only when the test
// tells it to, giving tests full control over reply timing.
type scriptTransport struct {
	mu        sync.Mutex
	recv      Receiver
	sent      []osc.Message
	autoReply map[string][]osc.Value
	closed    bool
}

func newScriptTransport() *scriptTransport {
	return &scriptTransport{autoReply: make(map[string][]osc.Value)}
}

func (t *scriptTransport) Open() error { return nil }

func (t *scriptTransport) SetReceiver(r Receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recv = r
}

func (t *scriptTransport) Send(b []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	msgs, err := osc.Decode(b)
	if err != nil {
		t.mu.Unlock()
		return nil
	}
	t.sent = append(t.sent, msgs...)
	recv := t.recv
	var replies []osc.Message
	for _, m := range msgs {
		if args, ok := t.autoReply[m.Address]; ok {
			replies = append(replies, osc.NewMessage(m.Address, args...))
		}
	}
	t.mu.Unlock()

	for _, r := range replies {
		recv(r)
	}
	return nil
}

func (t *scriptTransport) reply(address string, args ...osc.Value) {
	t.mu.Lock()
	recv := t.recv
	t.mu.Unlock()
	recv(osc.NewMessage(address, args...))
}

func (t *scriptTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func (t *scriptTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *scriptTransport) Mode() Mode         { return ModeUDP }
func (t *scriptTransport) RemoteAddr() string { return "10.0.0.2:10023" }

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func collectStates(t *testing.T, sub *events.Subscriber, n int) []string {
	t.Helper()
	var states []string
	for len(states) < n {
		select {
		case ev := <-sub.Events():
			if ev.Kind == events.KindStateChange {
				states = append(states, ev.Payload.(events.StateChange).State)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out collecting state events, have %v", states)
		}
	}
	return states
}

// ----------------------------------------------------------------------------
// Correlator
// ----------------------------------------------------------------------------

func TestCorrelatorSerializesSameAddress(t *testing.T) {
	tr := newScriptTransport()
	corr := NewCorrelator(tr)
	tr.SetReceiver(corr.HandleMessage)

	type outcome struct {
		args []osc.Value
		err  error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	go func() {
		args, err := corr.Request(context.Background(), "/ch/01/mix/fader", nil, time.Second)
		first <- outcome{args, err}
	}()
	waitFor(t, func() bool { return tr.sentCount() == 1 }, "first request never sent")

	go func() {
		args, err := corr.Request(context.Background(), "/ch/01/mix/fader", nil, time.Second)
		second <- outcome{args, err}
	}()

	// The duplicate queues: nothing else goes on the wire yet.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, tr.sentCount())
	assert.Equal(t, 2, corr.PendingCount())

	tr.reply("/ch/01/mix/fader", osc.Float(0.5))
	res1 := <-first
	require.NoError(t, res1.err)
	assert.InDelta(t, 0.5, res1.args[0].Float, 1e-6)

	// Resolving the head dispatches the queued duplicate.
	waitFor(t, func() bool { return tr.sentCount() == 2 }, "queued request never dispatched")
	tr.reply("/ch/01/mix/fader", osc.Float(0.7))

	res2 := <-second
	require.NoError(t, res2.err)
	assert.InDelta(t, 0.7, res2.args[0].Float, 1e-6)
}

func TestCorrelatorTimeout(t *testing.T) {
	tr := newScriptTransport()
	corr := NewCorrelator(tr)
	tr.SetReceiver(corr.HandleMessage)

	start := time.Now()
	_, err := corr.Request(context.Background(), "/xinfo", nil, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Zero(t, corr.PendingCount())
}

func TestTimeoutIffReplySlower(t *testing.T) {
	// Reply delay D against timeout T: TIMEOUT iff D > T.
	mock := NewMockTransport()
	corr := NewCorrelator(mock)
	mock.SetReceiver(corr.HandleMessage)

	mock.Latency = 20 * time.Millisecond
	args, err := corr.Request(context.Background(), "/xinfo", nil, 300*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, args, 4)

	mock.Latency = 300 * time.Millisecond
	_, err = corr.Request(context.Background(), "/xinfo", nil, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCorrelatorContextCancel(t *testing.T) {
	tr := newScriptTransport()
	corr := NewCorrelator(tr)
	tr.SetReceiver(corr.HandleMessage)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := corr.Request(ctx, "/xinfo", nil, 5*time.Second)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestShutdownFailsPending(t *testing.T) {
	tr := newScriptTransport()
	corr := NewCorrelator(tr)
	tr.SetReceiver(corr.HandleMessage)

	errCh := make(chan error, 1)
	go func() {
		_, err := corr.Request(context.Background(), "/xinfo", nil, 5*time.Second)
		errCh <- err
	}()
	waitFor(t, func() bool { return corr.PendingCount() == 1 }, "request never registered")

	corr.Shutdown()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(time.Second):
		t.Fatal("pending request not failed by shutdown")
	}

	// New requests are rejected outright.
	_, err := corr.Request(context.Background(), "/xinfo", nil, time.Second)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

// ----------------------------------------------------------------------------
// Session state machine
// ----------------------------------------------------------------------------

func TestSessionOpenAgainstMock(t *testing.T) {
	bus := events.NewBus(32)
	defer bus.Close()
	sub := bus.Subscribe(events.KindStateChange)

	mock := NewMockTransport()
	mock.IP = "10.0.0.2"
	mock.Name = "FOH-Main"

	sess := New(mock, bus, Config{})
	require.NoError(t, sess.Open(context.Background()))
	defer sess.Close()

	states := collectStates(t, sub, 2)
	assert.Equal(t, []string{"connecting", "connected"}, states)

	args, err := sess.Request(context.Background(), "/xinfo", nil, time.Second)
	require.NoError(t, err)
	require.Len(t, args, 4)
	assert.Equal(t, "10.0.0.2", args[0].Str)
	assert.Equal(t, "FOH-Main", args[1].Str)
	assert.Equal(t, "X32", args[2].Str)
	assert.Equal(t, "4.08", args[3].Str)

	info, ok := sess.Identity()
	require.True(t, ok)
	assert.Equal(t, "4.08", info.Firmware)
	assert.Equal(t, ModeMock, sess.Mode())
}

func TestSessionIdleReprobe(t *testing.T) {
	bus := events.NewBus(32)
	defer bus.Close()
	sub := bus.Subscribe(events.KindStateChange)

	tr := newScriptTransport()
	tr.autoReply["/xinfo"] = []osc.Value{
		osc.String("10.0.0.2"), osc.String("FOH"), osc.String("X32"), osc.String("4.08"),
	}

	sess := New(tr, bus, Config{
		IdleWindow:   200 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, sess.Open(context.Background()))
	defer sess.Close()

	// Silence past the idle window forces a re-probe, which succeeds.
	states := collectStates(t, sub, 4)
	assert.Equal(t, []string{"connecting", "connected", "connecting", "connected"}, states)
}

func TestSessionFailsAfterConsecutiveProbeFailures(t *testing.T) {
	bus := events.NewBus(32)
	defer bus.Close()
	sub := bus.Subscribe(events.KindStateChange)

	tr := newScriptTransport() // never replies

	sess := New(tr, bus, Config{
		IdleWindow:       100 * time.Millisecond,
		ProbeTimeout:     30 * time.Millisecond,
		MaxProbeFailures: 2,
	})
	err := sess.Open(context.Background())
	assert.Error(t, err)
	defer sess.Close()

	waitFor(t, func() bool { return sess.State() == StateFailed }, "session never failed")

	states := collectStates(t, sub, 2)
	assert.Equal(t, "connecting", states[0])
	assert.Equal(t, "failed", states[1])
}

func TestRecallPublishesSceneLoaded(t *testing.T) {
	bus := events.NewBus(32)
	defer bus.Close()
	sub := bus.Subscribe(events.KindSceneLoaded)

	mock := NewMockTransport()
	sess := New(mock, bus, Config{})
	require.NoError(t, sess.Open(context.Background()))
	defer sess.Close()

	require.NoError(t, sess.Recall(5))

	select {
	case ev := <-sub.Events():
		payload := ev.Payload.(events.SceneLoaded)
		assert.Equal(t, 5, payload.Slot)
		assert.Equal(t, "console", payload.Source)
	case <-time.After(time.Second):
		t.Fatal("no scene-loaded event")
	}

	assert.Error(t, sess.Recall(100))
}

// ----------------------------------------------------------------------------
// Sweep engine
// ----------------------------------------------------------------------------

func newMockSession(t *testing.T, mock *MockTransport) *Session {
	t.Helper()
	sess := New(mock, nil, Config{})
	require.NoError(t, sess.Open(context.Background()))
	t.Cleanup(func() { sess.Close() })
	return sess
}

func sweepAddrs(n int) []string {
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("/ch/%02d/mix/fader", i+1)
	}
	return addrs
}

func TestSweepPreservesInputOrder(t *testing.T) {
	for _, window := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("Window%d", window), func(t *testing.T) {
			mock := NewMockTransport()
			mock.Latency = 2 * time.Millisecond
			sess := newMockSession(t, mock)

			addrs := sweepAddrs(40)
			results, err := sess.Sweep(context.Background(), addrs, SweepPolicy{
				InflightWindow: window,
				InterSendGap:   time.Millisecond,
			}, nil)
			require.NoError(t, err)
			require.Len(t, results, len(addrs))
			for i, r := range results {
				assert.Equal(t, addrs[i], r.Address)
				assert.False(t, r.Missing)
				require.Len(t, r.Args, 1)
			}
		})
	}
}

func TestSweepRetriesDroppedReplies(t *testing.T) {
	mock := NewMockTransport()
	flaky := "/ch/03/mix/fader"
	dead := "/ch/07/mix/fader"
	mock.DropFunc = func(address string, attempt int) bool {
		if address == flaky {
			return attempt <= 2 // recovered on the third try
		}
		return address == dead // never answers
	}
	sess := newMockSession(t, mock)

	addrs := sweepAddrs(10)
	results, err := sess.Sweep(context.Background(), addrs, SweepPolicy{
		PerRequestTimeout: 30 * time.Millisecond,
		MaxAttempts:       3,
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 10)

	for _, r := range results {
		switch r.Address {
		case dead:
			assert.True(t, r.Missing, "dead address should carry the sentinel")
			assert.Nil(t, r.Args)
		default:
			assert.False(t, r.Missing, "address %s unexpectedly missing", r.Address)
		}
	}
}

func TestSweepProgressCadence(t *testing.T) {
	mock := NewMockTransport()
	sess := newMockSession(t, mock)

	var calls []int
	_, err := sess.Sweep(context.Background(), sweepAddrs(10), SweepPolicy{
		ProgressEvery: 5,
	}, func(completed, total int, address string) {
		calls = append(calls, completed)
		assert.Equal(t, 10, total)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 10}, calls)
}

func TestSweepCancellation(t *testing.T) {
	mock := NewMockTransport()
	mock.Latency = 10 * time.Millisecond
	sess := newMockSession(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	addrs := sweepAddrs(99)
	start := time.Now()
	results, err := sess.Sweep(ctx, addrs, SweepPolicy{
		PerRequestTimeout: 200 * time.Millisecond,
		InterSendGap:      2 * time.Millisecond,
	}, nil)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrCanceled)
	assert.Greater(t, len(results), 0, "expected partial progress")
	assert.Less(t, len(results), len(addrs), "expected cancellation before completion")
	// No in-flight request outlives the cancel by more than one timeout.
	assert.Less(t, elapsed, 150*time.Millisecond+2*200*time.Millisecond)
}

func TestSweepDuplicateAddressesSerialized(t *testing.T) {
	mock := NewMockTransport()
	mock.Latency = 2 * time.Millisecond
	sess := newMockSession(t, mock)

	addrs := []string{
		"/ch/01/mix/fader", "/ch/01/mix/fader", "/ch/02/mix/fader", "/ch/01/mix/fader",
	}
	results, err := sess.Sweep(context.Background(), addrs, SweepPolicy{
		InflightWindow: 4,
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, addrs[i], r.Address)
		assert.False(t, r.Missing)
	}
}
