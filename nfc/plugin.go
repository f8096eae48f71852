package nfc

import (
	"github.com/dotside-studios/davi-nfc-reader/internal/syncutil"
)

// Plugin owns the single Reader and picks its removal strategy from what the
// host's adapter can do.
type Plugin struct {
	cfg    Config
	mu     syncutil.Mutex
	reader *Reader
}

// NewPlugin validates cfg, resolves the adapter through the host and builds
// the reader.
func NewPlugin(cfg Config) (*Plugin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	host, ok := cfg.Host.Get()
	if !ok {
		return nil, NewConfigurationError("NewPlugin", "host reference already invalidated", nil)
	}
	adapter, err := host.NFCAdapter()
	if err != nil {
		return nil, NewReaderIOError("NewPlugin", err)
	}

	reader, err := newReader(cfg, adapter, selectRemovalStrategy(&cfg, adapter))
	if err != nil {
		return nil, err
	}
	return &Plugin{cfg: cfg, reader: reader}, nil
}

func selectRemovalStrategy(cfg *Config, adapter Adapter) removalStrategy {
	if notifier, ok := adapter.(TagRemovalNotifier); ok && !cfg.ForcePollingRemoval {
		return &nativeRemoval{notifier: notifier, debounce: TagRemovalDebounce}
	}
	return &pollingRemoval{
		clock:    cfg.Clock,
		interval: cfg.CardRemovalPollingInterval,
		logger:   cfg.Logger,
		debug:    cfg.Debug,
	}
}

// Name returns the plugin name.
func (p *Plugin) Name() string { return PluginName }

// Reader returns the plugin's reader, or nil after Unregister.
func (p *Plugin) Reader() *Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reader
}

// SearchAvailableReaders returns the readers the host should register.
func (p *Plugin) SearchAvailableReaders() []*Reader {
	if r := p.Reader(); r != nil {
		return []*Reader{r}
	}
	return nil
}

// Unregister releases the reader and the host reference.
func (p *Plugin) Unregister() {
	p.mu.Lock()
	r := p.reader
	p.reader = nil
	p.mu.Unlock()

	if r != nil {
		r.OnUnregister()
	}
}
