// Package mstrings holds string helpers.
package mstrings

import (
	"sync"
)

// SyncTail is a race-safe io.Writer that keeps only the last Limit bytes
// written to it. A zero Limit keeps everything.
type SyncTail struct {
	Limit int

	mutex     sync.RWMutex
	buf       []byte
	truncated bool
}

// Write appends p, then drops the oldest bytes past Limit. It never fails.
func (t *SyncTail) Write(p []byte) (int, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.buf = append(t.buf, p...)

	if t.Limit > 0 && len(t.buf) > t.Limit {
		t.buf = append(t.buf[:0:0], t.buf[len(t.buf)-t.Limit:]...)
		t.truncated = true
	}

	return len(p), nil
}

// String returns the kept bytes, prefixed with “…” if older ones were
// dropped.
func (t *SyncTail) String() string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.truncated {
		return "…" + string(t.buf)
	}

	return string(t.buf)
}
