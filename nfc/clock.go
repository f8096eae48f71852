package nfc

import (
	"sync"
	"time"
)

// Clock abstracts the time source used by the polling removal monitor.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Ticker is the subset of time.Ticker used by the reader.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock with the time package.
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() Clock {
	return RealClock{}
}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type realTicker struct {
	t *time.Ticker
}

func (rt realTicker) C() <-chan time.Time { return rt.t.C }
func (rt realTicker) Stop()               { rt.t.Stop() }

// FakeClock is a manually advanced Clock for tests.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	waiters []fakeWaiter
	created chan struct{}
}

type fakeWaiter struct {
	deadline time.Time
	c        chan time.Time
}

// NewFakeClock creates a new FakeClock starting at the given time
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start, created: make(chan struct{}, 64)}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) NewTicker(d time.Duration) Ticker {
	fc.mu.Lock()
	ft := &fakeTicker{clock: fc, interval: d, next: fc.now.Add(d), c: make(chan time.Time, 1)}
	fc.tickers = append(fc.tickers, ft)
	fc.mu.Unlock()

	select {
	case fc.created <- struct{}{}:
	default:
	}
	return ft
}

func (fc *FakeClock) After(d time.Duration) <-chan time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	c := make(chan time.Time, 1)
	fc.waiters = append(fc.waiters, fakeWaiter{deadline: fc.now.Add(d), c: c})
	return c
}

// Advance moves the clock forward and fires every ticker and After channel
// whose deadline has passed. A ticker whose channel is still full drops the tick.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	for _, ft := range fc.tickers {
		if ft.stopped || ft.next.After(fc.now) {
			continue
		}
		for !ft.next.After(fc.now) {
			ft.next = ft.next.Add(ft.interval)
		}
		select {
		case ft.c <- fc.now:
		default:
		}
	}

	pending := fc.waiters[:0]
	for _, w := range fc.waiters {
		if w.deadline.After(fc.now) {
			pending = append(pending, w)
			continue
		}
		w.c <- fc.now
	}
	fc.waiters = pending
}

// WaitForTicker blocks until a ticker has been created since the last call,
// or the timeout elapses. It returns false on timeout.
func (fc *FakeClock) WaitForTicker(timeout time.Duration) bool {
	select {
	case <-fc.created:
		return true
	case <-time.After(timeout):
		return false
	}
}

type fakeTicker struct {
	clock    *FakeClock
	interval time.Duration
	next     time.Time
	c        chan time.Time
	stopped  bool
}

func (ft *fakeTicker) C() <-chan time.Time { return ft.c }

func (ft *fakeTicker) Stop() {
	ft.clock.mu.Lock()
	ft.stopped = true
	ft.clock.mu.Unlock()
}
