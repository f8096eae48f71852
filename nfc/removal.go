package nfc

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dotside-studios/davi-nfc-reader/internal/syncutil"
)

const (
	// DefaultCardRemovalPollingInterval is the polling strategy period.
	DefaultCardRemovalPollingInterval = 100 * time.Millisecond
	// TagRemovalDebounce is the absence window before the OS reports removal.
	TagRemovalDebounce = 1000 * time.Millisecond
)

type waitOutcome int

const (
	outcomeRemoved waitOutcome = iota + 1
	outcomeStopped
)

// removalWaiter is a one-shot event guarded by a state flag. A signal raised
// before the waiter blocks is kept in outcome and never lost. Each wait gets a
// generation so late signals from a previous wait are dropped.
type removalWaiter struct {
	mu      syncutil.Mutex
	waiting bool
	gen     uint64
	outcome waitOutcome
	done    chan struct{}
}

// begin starts a new wait and returns its generation.
func (w *removalWaiter) begin() (uint64, <-chan struct{}, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.waiting {
		return 0, nil, false
	}
	w.waiting = true
	w.gen++
	w.outcome = 0
	w.done = make(chan struct{})
	return w.gen, w.done, true
}

// signal resolves wait gen. It is a no-op for stale generations and for
// waits that are already resolved.
func (w *removalWaiter) signal(gen uint64, o waitOutcome) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.waiting || w.gen != gen || w.outcome != 0 {
		return false
	}
	w.outcome = o
	close(w.done)
	return true
}

// stop resolves the current wait, if any, as stopped.
func (w *removalWaiter) stop() {
	w.mu.Lock()
	gen := w.gen
	w.mu.Unlock()
	w.signal(gen, outcomeStopped)
}

// end finishes wait gen and reports how it was resolved.
func (w *removalWaiter) end(gen uint64) waitOutcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	o := w.outcome
	if w.gen == gen {
		w.waiting = false
	}
	return o
}

// removalStrategy detects that the bound tag left the field.
type removalStrategy interface {
	// watch starts monitoring and calls removed once the tag is gone. The
	// returned cancel function stops monitoring and is safe to call twice.
	watch(tag Tag, tech TagTechnology, removed func()) (cancel func(), err error)
	name() string
}

// pollingRemoval checks IsConnected on every tick.
type pollingRemoval struct {
	clock    Clock
	interval time.Duration
	logger   *log.Logger
	debug    bool
}

func (p *pollingRemoval) name() string { return "polling" }

func (p *pollingRemoval) watch(_ Tag, tech TagTechnology, removed func()) (func(), error) {
	stop := make(chan struct{})
	ticker := p.clock.NewTicker(p.interval)

	go func() {
		defer ticker.Stop()
		for {
			if !isPresent(tech) {
				if p.debug {
					p.logger.Printf("card removed")
				}
				removed()
				return
			}
			select {
			case <-stop:
				return
			case <-ticker.C():
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }, nil
}

// isPresent treats a nil technology or a panicking backend as absent.
func isPresent(tech TagTechnology) (present bool) {
	if tech == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			present = false
		}
	}()
	return tech.IsConnected()
}

// nativeRemoval relies on the adapter's removal callback.
type nativeRemoval struct {
	notifier TagRemovalNotifier
	debounce time.Duration
}

func (n *nativeRemoval) name() string { return "native" }

func (n *nativeRemoval) watch(tag Tag, _ TagTechnology, removed func()) (func(), error) {
	if tag == nil {
		removed()
		return func() {}, nil
	}
	if err := n.notifier.Ignore(tag, n.debounce, removed); err != nil {
		return nil, err
	}
	// The OS callback cannot be unregistered; the waiter drops it once the
	// wait has ended.
	return func() {}, nil
}

// removalMonitor runs at most one wait at a time over a strategy.
type removalMonitor struct {
	strategy removalStrategy
	waiter   removalWaiter
	logger   *log.Logger
}

func (m *removalMonitor) wait(ctx context.Context, tag Tag, tech TagTechnology) error {
	gen, done, ok := m.waiter.begin()
	if !ok {
		return NewInvalidStateError("WaitForCardRemoval", "a removal wait is already in progress")
	}

	cancel, err := m.strategy.watch(tag, tech, func() {
		m.waiter.signal(gen, outcomeRemoved)
	})
	if err != nil {
		m.waiter.end(gen)
		return NewReaderIOError("WaitForCardRemoval", err)
	}
	defer cancel()

	select {
	case <-done:
	case <-ctx.Done():
		m.waiter.signal(gen, outcomeStopped)
		m.waiter.end(gen)
		return ctx.Err()
	}

	if m.waiter.end(gen) == outcomeStopped {
		return ErrRemovalWaitStopped
	}
	return nil
}

func (m *removalMonitor) stop() {
	m.waiter.stop()
}
