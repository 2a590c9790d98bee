package wsclient

import (
	"sync"

	"github.com/fileferry/fileferry/pkg/protocol"
)

// Deduper filters repeated fileSelected deliveries. The relay is
// at-most-once per routing decision, but senders may repeat a selection as a
// reliability measure, so receivers key-dedupe on (filePath, timestamp).
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduper creates an empty deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Seen records the selection and reports whether an identical one was
// already delivered.
func (d *Deduper) Seen(sel protocol.FileSelected) bool {
	key := sel.DedupeKey()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = struct{}{}
	return false
}
