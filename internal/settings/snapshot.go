package settings

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable copy of the settings table. Integer and boolean values are decoded
// once when the snapshot is built.
type Snapshot struct {
	UpdatedAt time.Time

	raw   map[string]json.RawMessage
	ints  map[string]int
	bools map[string]bool
}

var current atomic.Pointer[Snapshot]

func init() {
	current.Store(newSnapshot(time.Time{}, nil))
}

func newSnapshot(updatedAt time.Time, values map[string]json.RawMessage) *Snapshot {
	snap := &Snapshot{
		UpdatedAt: updatedAt.UTC(),
		raw:       make(map[string]json.RawMessage, len(values)),
		ints:      make(map[string]int),
		bools:     make(map[string]bool),
	}
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		copied := append(json.RawMessage(nil), v...)
		snap.raw[key] = copied
		if n, ok := parseInt(copied); ok {
			snap.ints[key] = n
		}
		if b, ok := parseBool(copied); ok {
			snap.bools[key] = b
		}
	}
	return snap
}

// StoreSnapshot replaces the in-memory settings with values.
func StoreSnapshot(updatedAt time.Time, values map[string]json.RawMessage) {
	current.Store(newSnapshot(updatedAt, values))
}

// Current returns the active snapshot.
func Current() *Snapshot {
	return current.Load()
}

// Raw returns a copy of the stored JSON for key.
func (s *Snapshot) Raw(key string) (json.RawMessage, bool) {
	val, ok := s.raw[strings.TrimSpace(key)]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), val...), true
}

// Int returns the decoded integer for key.
func (s *Snapshot) Int(key string) (int, bool) {
	n, ok := s.ints[strings.TrimSpace(key)]
	return n, ok
}

// Bool returns the decoded boolean for key.
func (s *Snapshot) Bool(key string) (bool, bool) {
	b, ok := s.bools[strings.TrimSpace(key)]
	return b, ok
}
