// Package libnfc drives a libnfc-compatible USB reader (PN53x, ACR122U and
// friends) as a reader-mode adapter.
package libnfc

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"

	"github.com/dotside-studios/davi-nfc-reader/internal/ignore"
	"github.com/dotside-studios/davi-nfc-reader/internal/syncutil"
	core "github.com/dotside-studios/davi-nfc-reader/nfc"
)

// DefaultPresenceCheckDelay is used when reader mode is enabled without a
// presence-check override.
const DefaultPresenceCheckDelay = 250 * time.Millisecond

// libnfc's own response timeout.
const transceiveTimeout = -1

// initiator is the subset of nfc.Device used by the adapter.
type initiator interface {
	InitiatorListPassiveTargets(m nfc.Modulation) ([]nfc.Target, error)
	InitiatorSelectPassiveTarget(m nfc.Modulation, initData []byte) (nfc.Target, error)
	InitiatorTargetIsPresent(t nfc.Target) error
	InitiatorTransceiveBytes(tx, rx []byte, timeout int) (int, error)
	InitiatorDeselectTarget() error
}

// Adapter implements nfc.Adapter and nfc.TagRemovalNotifier on top of a
// libnfc device.
type Adapter struct {
	name   string
	logger *log.Logger
	debug  bool
	clock  core.Clock

	// devMu serializes every exchange with the device.
	devMu        syncutil.Mutex
	dev          initiator
	freefareTags func() ([]freefare.Tag, error)
	closeDevice  func() error

	mu      syncutil.Mutex
	stop    chan struct{}
	done    chan struct{}
	ignored ignore.Tracker
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(l *log.Logger) Option { return func(a *Adapter) { a.logger = l } }

// WithDebug enables per-poll logging.
func WithDebug(debug bool) Option { return func(a *Adapter) { a.debug = debug } }

// WithClock replaces the clock driving the reader-mode loop.
func WithClock(c core.Clock) Option { return func(a *Adapter) { a.clock = c } }

// ListDevices returns the connection strings of the attached libnfc devices.
func ListDevices() ([]string, error) {
	devices, err := nfc.ListDevices()
	if err != nil {
		return nil, core.NewReaderIOError("ListDevices", err)
	}
	return devices, nil
}

// Open opens the device at connstring ("" selects the first one) in
// initiator mode.
func Open(connstring string, opts ...Option) (*Adapter, error) {
	dev, err := nfc.Open(connstring)
	if err != nil {
		return nil, core.NewReaderIOError("Open", fmt.Errorf("open device %q: %w", connstring, err))
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, core.NewReaderIOError("Open", fmt.Errorf("initiator init: %w", err))
	}
	// Reselecting a departed tag must not block forever.
	if err := dev.SetPropertyBool(nfc.InfiniteSelect, false); err != nil {
		dev.Close()
		return nil, core.NewReaderIOError("Open", fmt.Errorf("disable infinite select: %w", err))
	}

	a := newAdapter(dev, func() ([]freefare.Tag, error) { return freefare.GetTags(dev) }, opts...)
	a.name = dev.String()
	a.closeDevice = dev.Close
	a.logger.Printf("Opened NFC device: %s", a.name)
	return a, nil
}

func newAdapter(dev initiator, tags func() ([]freefare.Tag, error), opts ...Option) *Adapter {
	a := &Adapter{
		dev:          dev,
		freefareTags: tags,
		logger:       log.New(os.Stderr, "[libnfc] ", log.LstdFlags),
		clock:        core.NewRealClock(),
		closeDevice:  func() error { return nil },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// String returns the device description.
func (a *Adapter) String() string { return a.name }

// EnableReaderMode starts polling for the technologies named in flags and
// hands every newly discovered tag to cb. A running loop is replaced.
func (a *Adapter) EnableReaderMode(cb core.ReaderCallback, flags core.ReaderFlag, opts core.ReaderOptions) error {
	if cb == nil {
		return errors.New("reader callback is required")
	}
	mods := modulationsFor(flags)
	if len(mods) == 0 {
		a.logger.Printf("Reader mode enabled without NFC-A or NFC-B polling (flags %#x)", int(flags))
	}
	interval := opts.PresenceCheckDelay
	if interval <= 0 {
		interval = DefaultPresenceCheckDelay
	}

	a.stopLoop()

	a.mu.Lock()
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	stop, done := a.stop, a.done
	a.mu.Unlock()

	go a.run(cb, mods, interval, stop, done)
	return nil
}

// DisableReaderMode stops the polling loop and forgets any ignored tag.
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
	<-done
}

// Close stops reader mode and releases the device.
func (a *Adapter) Close() error {
	a.stopLoop()
	a.devMu.Lock()
	defer a.devMu.Unlock()
	return a.closeDevice()
}

// Ignore suppresses rediscovery of t and calls onRemoved once t has been out
// of the field for debounce.
func (a *Adapter) Ignore(t core.Tag, debounce time.Duration, onRemoved func()) error {
	lt, ok := t.(*tag)
	if !ok || lt.adapter != a {
		return fmt.Errorf("tag %T was not discovered by this adapter", t)
	}
	if onRemoved == nil {
		return errors.New("removal callback is required")
	}
	a.mu.Lock()
	a.ignored.Set(lt.uidHex(), debounce, onRemoved, lt.lost.Load(), a.clock.Now())
	a.mu.Unlock()
	return nil
}

// run is the reader-mode loop. It polls for a tag while none is present and
// presence-checks the current tag otherwise.
func (a *Adapter) run(cb core.ReaderCallback, mods []nfc.Modulation, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := a.clock.NewTicker(interval)
	defer ticker.Stop()

	var current *tag
	for {
		current = a.poll(cb, mods, current)
		select {
		case <-stop:
			return
		case <-ticker.C():
		}
	}
}

func (a *Adapter) poll(cb core.ReaderCallback, mods []nfc.Modulation, current *tag) *tag {
	if current != nil && !a.targetPresent(current) {
		if a.debug {
			a.logger.Printf("Tag %s left the field", current.uidHex())
		}
		a.mu.Lock()
		a.ignored.Lost(current.uidHex(), a.clock.Now())
		a.mu.Unlock()
		current = nil
	}

	if current == nil {
		if found := a.discover(mods); found != nil {
			current = found
			a.mu.Lock()
			ignored := a.ignored.Seen(found.uidHex())
			a.mu.Unlock()
			if ignored {
				if a.debug {
					a.logger.Printf("Ignoring tag %s", found.uidHex())
				}
			} else {
				a.logger.Printf("Discovered tag %s %v", found.uidHex(), found.techs)
				cb.OnTagDiscovered(found)
			}
		}
	}

	a.mu.Lock()
	removed := a.ignored.Expire(a.clock.Now())
	a.mu.Unlock()
	if removed != nil {
		removed()
	}
	return current
}

// discover returns the first selectable target across mods, or nil.
func (a *Adapter) discover(mods []nfc.Modulation) *tag {
	a.devMu.Lock()
	defer a.devMu.Unlock()
	for _, m := range mods {
		targets, err := a.dev.InitiatorListPassiveTargets(m)
		if err != nil {
			if a.debug {
				a.logger.Printf("Error listing passive targets: %v", err)
			}
			continue
		}
		for _, target := range targets {
			t := newTag(a, m, target)
			if t == nil {
				continue
			}
			if _, err := a.dev.InitiatorSelectPassiveTarget(m, t.selectData()); err != nil {
				if a.debug {
					a.logger.Printf("Error selecting tag %s: %v", t.uidHex(), err)
				}
				continue
			}
			return t
		}
	}
	return nil
}

// targetPresent presence-checks t, marking it lost when it no longer answers.
func (a *Adapter) targetPresent(t *tag) bool {
	if t.lost.Load() {
		return false
	}
	a.devMu.Lock()
	err := a.dev.InitiatorTargetIsPresent(t.target)
	a.devMu.Unlock()
	if err != nil {
		t.lost.Store(true)
		return false
	}
	return true
}

func (a *Adapter) reselect(t *tag) error {
	a.devMu.Lock()
	defer a.devMu.Unlock()
	if _, err := a.dev.InitiatorSelectPassiveTarget(t.mod, t.selectData()); err != nil {
		t.lost.Store(true)
		return fmt.Errorf("select tag %s: %w", t.uidHex(), err)
	}
	return nil
}

func (a *Adapter) transceive(data []byte) ([]byte, error) {
	var rx [262]byte
	a.devMu.Lock()
	n, err := a.dev.InitiatorTransceiveBytes(data, rx[:], transceiveTimeout)
	a.devMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("transceive: %w", err)
	}
	return append([]byte(nil), rx[:n]...), nil
}

func (a *Adapter) withDevice(fn func() error) error {
	a.devMu.Lock()
	defer a.devMu.Unlock()
	return fn()
}

// connectFreefare finds t among the libfreefare tags in the field and
// connects it.
func (a *Adapter) connectFreefare(t *tag) (freefare.Tag, error) {
	a.devMu.Lock()
	defer a.devMu.Unlock()
	tags, err := a.freefareTags()
	if err != nil {
		return nil, fmt.Errorf("freefare tags: %w", err)
	}
	uid := t.uidHex()
	for _, ff := range tags {
		if !strings.EqualFold(ff.UID(), uid) {
			continue
		}
		if err := ff.Connect(); err != nil {
			return nil, fmt.Errorf("connect tag %s: %w", uid, err)
		}
		return ff, nil
	}
	t.lost.Store(true)
	return nil, fmt.Errorf("tag %s: %w", uid, errTagLost)
}

// disconnectFreefare releases ff and reselects t so presence checks keep
// addressing it.
func (a *Adapter) disconnectFreefare(t *tag, ff freefare.Tag) error {
	a.devMu.Lock()
	defer a.devMu.Unlock()
	if err := ff.Disconnect(); err != nil {
		return fmt.Errorf("disconnect tag %s: %w", t.uidHex(), err)
	}
	if _, err := a.dev.InitiatorSelectPassiveTarget(t.mod, t.selectData()); err != nil {
		t.lost.Store(true)
	}
	return nil
}
