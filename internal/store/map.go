package store

import (
	"iter"

	"github.com/streamkv/statestore/internal/codec"
)

// Map is a materialized key-value map at some version. It is mutable only
// while owned by an active UpdateSession's working copy; once published
// into a MapCache it must be treated as immutable — readers rely on that to
// share it lock-free across goroutines.
type Map struct {
	data map[string][]byte
}

func newMap() *Map {
	return &Map{data: make(map[string][]byte)}
}

// Get returns the current value for key, if present.
func (m *Map) Get(key []byte) ([]byte, bool) {
	v, ok := m.data[string(key)]
	return v, ok
}

// Len returns the number of live keys.
func (m *Map) Len() int { return len(m.data) }

// clone returns a deep, independently-mutable copy — used when a session
// duplicates its predecessor version into a fresh working map.
func (m *Map) clone() *Map {
	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return &Map{data: out}
}

func (m *Map) set(key, value []byte) {
	m.data[string(key)] = value
}

func (m *Map) delete(key []byte) {
	delete(m.data, string(key))
}

// Records yields the map's (key, value) pairs in unspecified order.
func (m *Map) Records() iter.Seq[codec.Record] {
	return func(yield func(codec.Record) bool) {
		for k, v := range m.data {
			if !yield(codec.Record{Key: []byte(k), Value: v}) {
				return
			}
		}
	}
}
