package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stagelink/x32mgr/internal/osc"
)

// SweepPolicy tunes a bulk query sweep against a console that drops packets
// when flooded.
type SweepPolicy struct {
	// PerRequestTimeout bounds each individual query. Default 500ms.
	PerRequestTimeout time.Duration

	// MaxAttempts is how many times a timed-out query is retried before the
	// sweep records a no-value sentinel and moves on. Default 3.
	MaxAttempts int

	// InflightWindow is the maximum number of concurrently outstanding
	// queries. Default 1; larger windows trade exposure to reordering for
	// throughput.
	InflightWindow int

	// InterSendGap is the minimum wall-clock gap between successive sends.
	// Default 3ms, the pace an X32 sustains without dropping.
	InterSendGap time.Duration

	// ProgressEvery invokes the progress callback on every Nth completion.
	// Default 1.
	ProgressEvery int
}

func (p *SweepPolicy) applyDefaults() {
	if p.PerRequestTimeout <= 0 {
		p.PerRequestTimeout = 500 * time.Millisecond
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InflightWindow <= 0 {
		p.InflightWindow = 1
	}
	if p.InterSendGap <= 0 {
		p.InterSendGap = 3 * time.Millisecond
	}
	if p.ProgressEvery <= 0 {
		p.ProgressEvery = 1
	}
}

// SweepResult is the outcome for one address. Missing is set when every
// attempt timed out; Args is nil in that case.
type SweepResult struct {
	Address string
	Args    []osc.Value
	Missing bool
}

// ProgressFunc receives completion counts during a sweep. The address is the
// one that just completed.
type ProgressFunc func(completed, total int, address string)

// Sweep queries every address in order, pacing sends and retrying timeouts
// per the policy.
//
// The returned slice is aligned with the input: result i corresponds to
// addrs[i] even when InflightWindow parallelizes the queries. Two queries for
// the same address are never in flight at once.
//
// On cancellation the sweep stops issuing, waits for outstanding queries to
// resolve, and returns the issued prefix together with ErrCanceled. A
// transport failure aborts the same way with ErrTransportClosed.
func (s *Session) Sweep(ctx context.Context, addrs []string, pol SweepPolicy, progress ProgressFunc) ([]SweepResult, error) {
	pol.applyDefaults()

	results := make([]SweepResult, len(addrs))
	for i, a := range addrs {
		results[i].Address = a
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		inflight  = make(map[string]chan struct{})
		completed int
		fatal     error
	)

	sem := make(chan struct{}, pol.InflightWindow)
	total := len(addrs)
	issued := 0

	finish := func(i int) {
		mu.Lock()
		completed++
		done := completed
		mu.Unlock()
		if progress != nil && (done%pol.ProgressEvery == 0 || done == total) {
			progress(done, total, addrs[i])
		}
	}

issue:
	for i, addr := range addrs {
		// Stop issuing on cancellation or transport loss.
		select {
		case <-ctx.Done():
			break issue
		default:
		}
		mu.Lock()
		abort := fatal != nil
		mu.Unlock()
		if abort {
			break issue
		}

		// Per-address exclusivity: wait for a duplicate still in flight.
		for {
			mu.Lock()
			prev, busy := inflight[addr]
			if !busy {
				inflight[addr] = make(chan struct{})
				mu.Unlock()
				break
			}
			mu.Unlock()
			select {
			case <-prev:
			case <-ctx.Done():
				break issue
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			mu.Lock()
			ch := inflight[addr]
			delete(inflight, addr)
			mu.Unlock()
			close(ch)
			break issue
		}

		issued = i + 1
		wg.Add(1)
		go func(i int, addr string) {
			defer func() {
				mu.Lock()
				ch := inflight[addr]
				delete(inflight, addr)
				mu.Unlock()
				close(ch)
				<-sem
				wg.Done()
			}()

			for attempt := 1; attempt <= pol.MaxAttempts; attempt++ {
				args, err := s.corr.Request(ctx, addr, nil, pol.PerRequestTimeout)
				if err == nil {
					results[i].Args = args
					finish(i)
					return
				}
				if errors.Is(err, ErrTimeout) {
					continue
				}
				if errors.Is(err, ErrCanceled) {
					return
				}
				// Transport failure: abort the whole sweep.
				mu.Lock()
				if fatal == nil {
					fatal = err
				}
				mu.Unlock()
				return
			}

			// Retries exhausted: record the sentinel and keep sweeping.
			results[i].Missing = true
			finish(i)
		}(i, addr)

		time.Sleep(pol.InterSendGap)
	}

	wg.Wait()

	mu.Lock()
	err := fatal
	mu.Unlock()

	if err != nil {
		return results[:issued], err
	}
	if ctx.Err() != nil {
		return results[:issued], ErrCanceled
	}
	return results, nil
}
