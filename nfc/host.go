package nfc

import (
	"github.com/dotside-studios/davi-nfc-reader/internal/syncutil"
)

// Host owns the OS NFC adapter. It plays the role of the hosting activity.
type Host interface {
	NFCAdapter() (Adapter, error)
}

// HostFunc adapts a function to Host.
type HostFunc func() (Adapter, error)

func (f HostFunc) NFCAdapter() (Adapter, error) { return f() }

// HostRef is a non-owning reference to a Host. The owner may invalidate it at
// any time; readers must check Get before every use.
type HostRef struct {
	mu   syncutil.RWMutex
	host Host
}

// NewHostRef wraps host.
func NewHostRef(host Host) *HostRef {
	return &HostRef{host: host}
}

// Get returns the host while it is still valid.
func (r *HostRef) Get() (Host, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host, r.host != nil
}

// Invalidate drops the host. Subsequent Get calls fail.
func (r *HostRef) Invalidate() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.host = nil
	r.mu.Unlock()
}
