package nfc

import (
	"sync"
	"time"
)

// MockAdapter is a test implementation of Adapter.
//
// Example:
//
//	adapter := NewMockAdapter()
//	plugin, _ := NewPlugin(DefaultConfig(NewHostRef(adapter.Host())))
//	_ = plugin.Reader().OnStartDetection()
//	adapter.Discover(tag)
type MockAdapter struct {
	mu sync.Mutex

	Enabled   bool
	Callback  ReaderCallback
	Flags     ReaderFlag
	Options   ReaderOptions
	EnableErr error

	DisableErr   error
	EnableCalls  int
	DisableCalls int
}

// NewMockAdapter creates an adapter without removal notification, which makes
// the plugin fall back to polling.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// Host returns a Host resolving to this adapter.
func (m *MockAdapter) Host() Host {
	return HostFunc(func() (Adapter, error) { return m, nil })
}

func (m *MockAdapter) EnableReaderMode(cb ReaderCallback, flags ReaderFlag, opts ReaderOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnableCalls++
	if m.EnableErr != nil {
		return m.EnableErr
	}
	m.Enabled = true
	m.Callback = cb
	m.Flags = flags
	m.Options = opts
	return nil
}

func (m *MockAdapter) DisableReaderMode() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisableCalls++
	if m.DisableErr != nil {
		return m.DisableErr
	}
	m.Enabled = false
	return nil
}

// Discover delivers tag to the registered callback as the OS would.
// It returns false when reader mode is not enabled.
func (m *MockAdapter) Discover(tag Tag) bool {
	m.mu.Lock()
	cb, enabled := m.Callback, m.Enabled
	m.mu.Unlock()
	if !enabled || cb == nil {
		return false
	}
	cb.OnTagDiscovered(tag)
	return true
}

// MockRemovalAdapter adds TagRemovalNotifier to MockAdapter so the plugin
// selects the native removal strategy.
type MockRemovalAdapter struct {
	MockAdapter

	IgnoreErr error
	ignored   []ignoredTag
}

type ignoredTag struct {
	tag       Tag
	debounce  time.Duration
	onRemoved func()
}

func NewMockRemovalAdapter() *MockRemovalAdapter {
	return &MockRemovalAdapter{}
}

// Host returns a Host resolving to this adapter.
func (m *MockRemovalAdapter) Host() Host {
	return HostFunc(func() (Adapter, error) { return m, nil })
}

func (m *MockRemovalAdapter) Ignore(tag Tag, debounce time.Duration, onRemoved func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IgnoreErr != nil {
		return m.IgnoreErr
	}
	m.ignored = append(m.ignored, ignoredTag{tag: tag, debounce: debounce, onRemoved: onRemoved})
	return nil
}

// IgnoredCount returns how many Ignore registrations are pending.
func (m *MockRemovalAdapter) IgnoredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ignored)
}

// LastDebounce returns the debounce of the most recent registration.
func (m *MockRemovalAdapter) LastDebounce() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.ignored) == 0 {
		return 0
	}
	return m.ignored[len(m.ignored)-1].debounce
}

// Remove fires every pending removal callback.
func (m *MockRemovalAdapter) Remove() {
	m.mu.Lock()
	pending := m.ignored
	m.ignored = nil
	m.mu.Unlock()
	for _, ig := range pending {
		ig.onRemoved()
	}
}
