// Package ignore tracks the tag a reader backend was asked to ignore until
// it has stayed out of the field for a debounce window.
package ignore

import "time"

// Tracker holds at most one ignored tag. The zero value is empty and ready
// for use; callers provide their own locking.
type Tracker struct {
	uid       string
	debounce  time.Duration
	onRemoved func()
	lostAt    time.Time
}

// Active reports whether a tag is being ignored.
func (t *Tracker) Active() bool { return t.onRemoved != nil }

// Set replaces any previous entry. A tag that is already gone starts its
// debounce window at now.
func (t *Tracker) Set(uid string, debounce time.Duration, onRemoved func(), gone bool, now time.Time) {
	*t = Tracker{uid: uid, debounce: debounce, onRemoved: onRemoved}
	if gone {
		t.lostAt = now
	}
}

// Seen records uid answering in the field and reports whether it is ignored.
func (t *Tracker) Seen(uid string) bool {
	if !t.Active() || t.uid != uid {
		return false
	}
	t.lostAt = time.Time{}
	return true
}

// Lost records uid leaving the field at now.
func (t *Tracker) Lost(uid string, now time.Time) {
	if t.Active() && t.uid == uid && t.lostAt.IsZero() {
		t.lostAt = now
	}
}

// Expire returns the removal callback once the debounce window has elapsed
// and clears the entry. It returns nil otherwise.
func (t *Tracker) Expire(now time.Time) func() {
	if !t.Active() || t.lostAt.IsZero() || now.Sub(t.lostAt) < t.debounce {
		return nil
	}
	cb := t.onRemoved
	*t = Tracker{}
	return cb
}

// Clear drops the entry without calling it.
func (t *Tracker) Clear() { *t = Tracker{} }
