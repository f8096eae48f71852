// Package pcsc drives a PC/SC contactless reader as a reader-mode adapter.
// Cards are tracked through SCardGetStatusChange and MIFARE storage access
// uses the PC/SC part 3 pseudo-APDUs.
package pcsc

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ebfe/scard"

	"github.com/dotside-studios/davi-nfc-reader/internal/ignore"
	"github.com/dotside-studios/davi-nfc-reader/internal/syncutil"
	core "github.com/dotside-studios/davi-nfc-reader/nfc"
)

// DefaultStatusTimeout bounds each SCardGetStatusChange call when reader
// mode is enabled without a presence-check override.
const DefaultStatusTimeout = 250 * time.Millisecond

// scardContext is the subset of *scard.Context used by the adapter.
type scardContext interface {
	GetStatusChange(readerStates []scard.ReaderState, timeout time.Duration) error
	Cancel() error
	Release() error
}

type connectFunc func(reader string) (*session, error)

// Adapter implements nfc.Adapter and nfc.TagRemovalNotifier for one PC/SC
// reader.
type Adapter struct {
	reader  string
	logger  *log.Logger
	debug   bool
	clock   core.Clock
	ctx     scardContext
	connect connectFunc

	// devMu serializes card exchanges.
	devMu syncutil.Mutex

	mu      syncutil.Mutex
	stop    chan struct{}
	done    chan struct{}
	ignored ignore.Tracker
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(l *log.Logger) Option { return func(a *Adapter) { a.logger = l } }

// WithDebug enables per-event logging.
func WithDebug(debug bool) Option { return func(a *Adapter) { a.debug = debug } }

// WithClock replaces the clock used for removal debouncing.
func WithClock(c core.Clock) Option { return func(a *Adapter) { a.clock = c } }

// ListReaders returns the PC/SC readers, contactless-looking ones first.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, core.NewReaderIOError("ListReaders", fmt.Errorf("establish PC/SC context: %w", err))
	}
	defer ctx.Release()
	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, core.NewReaderIOError("ListReaders", fmt.Errorf("list readers: %w", err))
	}
	return filterContactlessReaders(readers), nil
}

// Open attaches to reader, or to the first contactless reader when reader
// is empty.
func Open(reader string, opts ...Option) (*Adapter, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, core.NewReaderIOError("Open", fmt.Errorf("establish PC/SC context: %w", err))
	}
	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, core.NewReaderIOError("Open", fmt.Errorf("list readers: %w", err))
	}
	name, err := pickReader(reader, readers)
	if err != nil {
		ctx.Release()
		return nil, core.NewReaderIOError("Open", err)
	}
	a := newAdapter(ctx, name, connector(ctx), opts...)
	a.logger.Printf("Using PC/SC reader: %s", name)
	return a, nil
}

func pickReader(want string, readers []string) (string, error) {
	candidates := filterContactlessReaders(readers)
	if want == "" {
		if len(candidates) == 0 {
			return "", errors.New("no PC/SC readers found")
		}
		return candidates[0], nil
	}
	for _, r := range readers {
		if r == want {
			return r, nil
		}
	}
	return "", fmt.Errorf("PC/SC reader %q not found", want)
}

// connector connects in shared mode and rejects cards the reader did not
// bring up on T=0 or T=1.
func connector(ctx *scard.Context) connectFunc {
	return func(reader string) (*session, error) {
		c, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", reader, err)
		}
		if p := c.ActiveProtocol(); p != scard.ProtocolT0 && p != scard.ProtocolT1 {
			c.Disconnect(scard.LeaveCard)
			return nil, fmt.Errorf("unsupported card protocol %d", p)
		}
		status, err := c.Status()
		if err != nil {
			c.Disconnect(scard.LeaveCard)
			return nil, fmt.Errorf("card status: %w", err)
		}
		return &session{
			card:    c,
			atr:     status.Atr,
			release: func() error { return c.Disconnect(scard.LeaveCard) },
		}, nil
	}
}

func newAdapter(ctx scardContext, reader string, connect connectFunc, opts ...Option) *Adapter {
	a := &Adapter{
		reader:  reader,
		ctx:     ctx,
		connect: connect,
		logger:  log.New(os.Stderr, "[pcsc] ", log.LstdFlags),
		clock:   core.NewRealClock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// String returns the reader name.
func (a *Adapter) String() string { return a.reader }

// EnableReaderMode starts monitoring the reader and hands each card that
// enters the field to cb. PC/SC readers cannot restrict polling by
// technology, so cards are only dispatched while NFC-A or NFC-B is enabled.
func (a *Adapter) EnableReaderMode(cb core.ReaderCallback, flags core.ReaderFlag, opts core.ReaderOptions) error {
	if cb == nil {
		return errors.New("reader callback is required")
	}
	dispatch := flags.Has(core.FlagReaderNfcA) || flags.Has(core.FlagReaderNfcB)
	timeout := opts.PresenceCheckDelay
	if timeout <= 0 {
		timeout = DefaultStatusTimeout
	}

	a.stopLoop()

	a.mu.Lock()
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	stop, done := a.stop, a.done
	a.mu.Unlock()

	go a.run(cb, dispatch, timeout, stop, done)
	return nil
}

// DisableReaderMode stops the monitor and forgets any ignored card.
func (a *Adapter) DisableReaderMode() error {
	a.stopLoop()
	a.mu.Lock()
	a.ignored.Clear()
	a.mu.Unlock()
	return nil
}

func (a *Adapter) stopLoop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	if err := a.ctx.Cancel(); err != nil && a.debug {
		a.logger.Printf("Cancel status change: %v", err)
	}
	<-done
}

// Close stops reader mode and releases the PC/SC context.
func (a *Adapter) Close() error {
	a.stopLoop()
	return a.ctx.Release()
}

// Ignore suppresses redispatch of t and calls onRemoved once the card has
// been out of the field for debounce.
func (a *Adapter) Ignore(t core.Tag, debounce time.Duration, onRemoved func()) error {
	pt, ok := t.(*tag)
	if !ok || pt.adapter != a {
		return fmt.Errorf("tag %T was not discovered by this adapter", t)
	}
	if onRemoved == nil {
		return errors.New("removal callback is required")
	}
	a.mu.Lock()
	a.ignored.Set(pt.uidHex(), debounce, onRemoved, pt.lost.Load(), a.clock.Now())
	a.mu.Unlock()
	return nil
}

func (a *Adapter) run(cb core.ReaderCallback, dispatch bool, timeout time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	states := []scard.ReaderState{{Reader: a.reader, CurrentState: scard.StateUnaware}}
	var current *tag
	defer func() {
		if current != nil {
			a.detach(current)
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		err := a.ctx.GetStatusChange(states, timeout)
		switch {
		case err == nil:
			event := states[0].EventState
			states[0].CurrentState = event &^ scard.StateChanged
			current = a.handleState(cb, dispatch, event, current)
		case errors.Is(err, scard.ErrTimeout), errors.Is(err, scard.ErrCancelled):
		default:
			a.logger.Printf("Status change on %s failed: %v", a.reader, err)
			if current != nil {
				a.detach(current)
				current = nil
			}
			select {
			case <-stop:
				return
			case <-time.After(timeout):
			}
		}

		a.mu.Lock()
		removed := a.ignored.Expire(a.clock.Now())
		a.mu.Unlock()
		if removed != nil {
			removed()
		}
	}
}

func (a *Adapter) handleState(cb core.ReaderCallback, dispatch bool, event scard.StateFlag, current *tag) *tag {
	present := event&scard.StatePresent != 0 && event&scard.StateMute == 0
	if current != nil && (!present || current.lost.Load()) {
		a.detach(current)
		current = nil
	}
	if present && current == nil {
		current = a.attach(cb, dispatch)
	}
	return current
}

// attach connects the card in the field and dispatches it unless it is
// being ignored.
func (a *Adapter) attach(cb core.ReaderCallback, dispatch bool) *tag {
	sess, err := a.connect(a.reader)
	if err != nil {
		a.logger.Printf("Card present on %s but connect failed: %v", a.reader, err)
		return nil
	}
	t := &tag{adapter: a, sess: sess, kind: classifyATR(sess.atr), cache: make(map[string]core.TagTechnology)}
	if uid, err := t.command("get uid", getUIDAPDU()); err == nil {
		t.uid = uid
	} else if a.debug {
		a.logger.Printf("Card without UID: %v", err)
	}

	a.mu.Lock()
	ignored := a.ignored.Seen(t.uidHex())
	a.mu.Unlock()
	switch {
	case ignored:
		if a.debug {
			a.logger.Printf("Ignoring card %s", t.uidHex())
		}
	case !dispatch:
		if a.debug {
			a.logger.Printf("Card %s not dispatched: NFC-A/B polling disabled", t.uidHex())
		}
	default:
		a.logger.Printf("Card %s (%s) entered the field", t.uidHex(), t.kind)
		cb.OnTagDiscovered(t)
	}
	return t
}

func (a *Adapter) detach(t *tag) {
	t.lost.Store(true)
	a.mu.Lock()
	a.ignored.Lost(t.uidHex(), a.clock.Now())
	a.mu.Unlock()

	a.devMu.Lock()
	defer a.devMu.Unlock()
	if t.sess.release != nil {
		if err := t.sess.release(); err != nil && a.debug {
			a.logger.Printf("Disconnect card %s: %v", t.uidHex(), err)
		}
	}
	if a.debug {
		a.logger.Printf("Card %s left the field", t.uidHex())
	}
}

func (a *Adapter) transmit(t *tag, cmd []byte) ([]byte, error) {
	if t.lost.Load() {
		return nil, errTagLost
	}
	a.devMu.Lock()
	resp, err := t.sess.card.Transmit(cmd)
	a.devMu.Unlock()
	if err != nil {
		if isCardRemovedError(err) {
			t.lost.Store(true)
			return nil, fmt.Errorf("%w: %v", errTagLost, err)
		}
		return nil, fmt.Errorf("transmit: %w", err)
	}
	return resp, nil
}

// cardPresent checks t with a GET UID exchange.
func (a *Adapter) cardPresent(t *tag) bool {
	_, err := t.command("presence check", getUIDAPDU())
	return err == nil && !t.lost.Load()
}

// isCardRemovedError reports whether err means the card left the field.
func isCardRemovedError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{scard.ErrRemovedCard, scard.ErrResetCard, scard.ErrNoSmartcard, scard.ErrUnpoweredCard} {
		if errors.Is(err, target) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"removed", "no smart card", "unpowered", "not transacted"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
