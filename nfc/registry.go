package nfc

import (
	"github.com/dotside-studios/davi-nfc-reader/internal/syncutil"
)

// Registry tracks activated protocols and the reader-mode flags derived from them.
type Registry struct {
	mu        syncutil.RWMutex
	base      ReaderFlag
	flags     ReaderFlag
	activated map[Protocol]bool
}

// NewRegistry creates a registry whose flags always include base.
func NewRegistry(base ReaderFlag) *Registry {
	return &Registry{
		base:      base,
		flags:     base,
		activated: make(map[Protocol]bool),
	}
}

// Activate enables p and ORs in its reader-mode flags.
func (r *Registry) Activate(p Protocol) error {
	info, ok := lookupProtocol(p)
	if !ok {
		return Errorf(ErrCodeConfiguration, "ActivateProtocol", "unknown protocol %q", p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activated[p] = true
	r.flags |= info.flags
	return nil
}

// Deactivate disables p and clears its reader-mode flags. Flags still needed
// by another active protocol are folded back in.
func (r *Registry) Deactivate(p Protocol) error {
	info, ok := lookupProtocol(p)
	if !ok {
		return Errorf(ErrCodeConfiguration, "DeactivateProtocol", "unknown protocol %q", p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activated, p)
	r.flags &^= info.flags
	for other := range r.activated {
		o, _ := lookupProtocol(other)
		r.flags |= o.flags
	}
	r.flags |= r.base
	return nil
}

// IsSupported reports whether p is a known protocol.
func (r *Registry) IsSupported(p Protocol) bool {
	_, ok := lookupProtocol(p)
	return ok
}

// IsActivated reports whether p is currently enabled.
func (r *Registry) IsActivated(p Protocol) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activated[p]
}

// Activated returns the enabled protocols in priority order.
func (r *Registry) Activated() []Protocol {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Protocol
	for _, e := range protocolTable {
		if r.activated[e.protocol] {
			out = append(out, e.protocol)
		}
	}
	return out
}

// Flags returns the current reader-mode flags.
func (r *Registry) Flags() ReaderFlag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags
}

// Reset drops every activation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activated = make(map[Protocol]bool)
	r.flags = r.base
}
