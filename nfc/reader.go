package nfc

import (
	"bytes"
	"context"
	"log"

	"github.com/dotside-studios/davi-nfc-reader/internal/syncutil"
)

// Reader is the single contactless reader exposed by the plugin. It is the
// adapter's ReaderCallback and the CommandProcessor of the configured
// APDUInterpreter.
//
// Methods are safe for concurrent use. Tag discovery runs on the backend's
// goroutine while the host drives the channel from its own.
type Reader struct {
	cfg         Config
	logger      *log.Logger
	registry    *Registry
	channel     *Channel
	removal     *removalMonitor
	interpreter APDUInterpreter
	keyProvider KeyProvider

	mu            syncutil.Mutex
	adapter       Adapter
	callback      CardInsertionCallback
	tag           Tag
	currentTech   string
	uid           []byte
	powerOnData   string
	technicalData string
	loadedKey     []byte
}

func newReader(cfg Config, adapter Adapter, strategy removalStrategy) (*Reader, error) {
	r := &Reader{
		cfg:         cfg,
		logger:      cfg.Logger,
		registry:    NewRegistry(cfg.baseFlags()),
		channel:     NewChannel(cfg.Logger),
		removal:     &removalMonitor{strategy: strategy, logger: cfg.Logger},
		keyProvider: cfg.KeyProvider,
		adapter:     adapter,
	}

	if f := cfg.APDUInterpreterFactory; f != nil {
		interp, err := f.CreateAPDUInterpreter()
		if err != nil {
			return nil, NewConfigurationError("NewReader", "cannot create APDU interpreter", err)
		}
		if interp == nil {
			return nil, NewConfigurationError("NewReader", "APDU interpreter factory returned nil", nil)
		}
		interp.SetCommandProcessor(r)
		r.interpreter = interp
	}

	r.logger.Printf("%s: config initialized: %s, removal strategy %s", ReaderName, cfg, strategy.name())
	return r, nil
}

// Name returns the reader name.
func (r *Reader) Name() string { return ReaderName }

// IsContactless always reports true.
func (r *Reader) IsContactless() bool { return true }

// IsProtocolSupported reports whether p is one of the known protocols.
func (r *Reader) IsProtocolSupported(p Protocol) bool {
	return r.registry.IsSupported(p)
}

// ActivateProtocol enables detection of p from the next OnStartDetection.
func (r *Reader) ActivateProtocol(p Protocol) error {
	return r.registry.Activate(p)
}

// DeactivateProtocol disables detection of p from the next OnStartDetection.
func (r *Reader) DeactivateProtocol(p Protocol) error {
	return r.registry.Deactivate(p)
}

// IsCurrentProtocol reports whether the bound tag was classified as p.
func (r *Reader) IsCurrentProtocol(p Protocol) bool {
	tech, ok := TechnologyOf(p)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentTech == tech
}

// ReaderFlags returns the flags the next OnStartDetection will use.
func (r *Reader) ReaderFlags() ReaderFlag {
	return r.registry.Flags()
}

// OpenPhysicalChannel connects the bound technology.
func (r *Reader) OpenPhysicalChannel() error {
	if err := r.channel.Open(); err != nil {
		return err
	}
	r.mu.Lock()
	r.loadedKey = nil
	r.mu.Unlock()
	return nil
}

// ClosePhysicalChannel marks the channel closed. The transport stays
// connected until the next tag is bound.
func (r *Reader) ClosePhysicalChannel() {
	r.channel.Close()
}

// IsPhysicalChannelOpen reports the channel state.
func (r *Reader) IsPhysicalChannelOpen() bool {
	return r.channel.IsOpen()
}

// CheckCardPresence reports whether the bound tag still answers.
func (r *Reader) CheckCardPresence() bool {
	return isPresent(r.channel.Technology())
}

// PowerOnData returns the hex ATR of the bound tag.
func (r *Reader) PowerOnData() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.powerOnData
}

// TechnicalData returns the JSON anticollision data of the bound tag, or
// an empty string when the tag exposes neither NfcA nor NfcB.
func (r *Reader) TechnicalData() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.technicalData
}

// TransmitAPDU sends apdu over the open channel, through the APDU
// interpreter when one is configured.
func (r *Reader) TransmitAPDU(apdu []byte) ([]byte, error) {
	var via func([]byte) ([]byte, error)
	if r.interpreter != nil {
		via = r.interpreter.ProcessAPDU
	}
	resp, err := r.channel.Transmit(apdu, via)
	if err != nil && r.cfg.Debug {
		r.logger.Printf("%s: transmit %s failed: %v", ReaderName, BytesToHex(apdu), err)
	}
	return resp, err
}

// SetCallback registers the insertion callback.
func (r *Reader) SetCallback(cb CardInsertionCallback) {
	r.mu.Lock()
	r.callback = cb
	r.mu.Unlock()
}

// OnStartDetection enables OS reader mode with the current flags.
func (r *Reader) OnStartDetection() error {
	r.logger.Printf("%s: start card detection", ReaderName)
	adapter, err := r.resolveAdapter("OnStartDetection")
	if err != nil {
		return err
	}
	if err := adapter.EnableReaderMode(r, r.registry.Flags(), r.cfg.readerOptions()); err != nil {
		return NewReaderIOError("OnStartDetection", err)
	}
	return nil
}

// OnStopDetection disables OS reader mode.
func (r *Reader) OnStopDetection() error {
	r.logger.Printf("%s: stop card detection", ReaderName)
	adapter, err := r.resolveAdapter("OnStopDetection")
	if err != nil {
		return err
	}
	if err := adapter.DisableReaderMode(); err != nil {
		return NewReaderIOError("OnStopDetection", err)
	}
	return nil
}

func (r *Reader) resolveAdapter(op string) (Adapter, error) {
	host, ok := r.cfg.Host.Get()
	if !ok {
		return nil, NewInvalidStateError(op, "no host context available")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adapter != nil {
		return r.adapter, nil
	}
	adapter, err := host.NFCAdapter()
	if err != nil {
		return nil, NewReaderIOError(op, err)
	}
	r.adapter = adapter
	return adapter, nil
}

// WaitForCardRemoval blocks until the bound tag leaves the field. It returns
// nil on removal, ErrRemovalWaitStopped after StopWaitForCardRemoval and
// ctx.Err() on cancellation.
func (r *Reader) WaitForCardRemoval(ctx context.Context) error {
	r.mu.Lock()
	tag := r.tag
	r.mu.Unlock()
	if r.cfg.Debug {
		r.logger.Printf("%s: waiting for card removal", ReaderName)
	}
	return r.removal.wait(ctx, tag, r.channel.Technology())
}

// StopWaitForCardRemoval unblocks a pending WaitForCardRemoval. It is a
// no-op when nothing is waiting.
func (r *Reader) StopWaitForCardRemoval() {
	r.removal.stop()
}

// OnUnregister releases the host and forgets every protocol and tag.
func (r *Reader) OnUnregister() {
	r.removal.stop()
	r.cfg.Host.Invalidate()
	r.registry.Reset()
	r.channel.Bind(nil)

	r.mu.Lock()
	r.adapter = nil
	r.callback = nil
	r.clearTagLocked()
	r.mu.Unlock()
}

// OnTagDiscovered binds the technology of tag and notifies the insertion
// callback. Tags with no activated technology are dropped.
func (r *Reader) OnTagDiscovered(tag Tag) {
	uid := bytes.Clone(tag.ID())
	r.logger.Printf("%s: card discovered: %s %v", ReaderName, BytesToHex(uid), tag.TechList())

	binding, err := Classify(tag, r.registry.IsActivated)
	if err != nil {
		r.channel.Bind(nil)
		r.mu.Lock()
		r.clearTagLocked()
		r.mu.Unlock()
		r.logger.Printf("%s: unsupported card technology: %v", ReaderName, err)
		return
	}

	r.channel.Bind(binding.Technology)

	r.mu.Lock()
	r.tag = tag
	r.currentTech = binding.Tech
	r.uid = uid
	r.powerOnData = BytesToHex(SynthesizeATR(binding.Technology))
	r.technicalData = buildTechnicalData(tag, uid)
	r.loadedKey = nil
	cb := r.callback
	r.mu.Unlock()

	if cb != nil {
		cb.OnCardInserted()
	}
}

func (r *Reader) clearTagLocked() {
	r.tag = nil
	r.currentTech = ""
	r.uid = nil
	r.powerOnData = ""
	r.technicalData = ""
	r.loadedKey = nil
}
