package store

import (
	"os"

	"github.com/streamkv/statestore/internal/codec"
	"github.com/streamkv/statestore/internal/layout"
)

// loader materializes version v by finding the nearest snapshot <= v and
// replaying deltas forward. Recursion depth is bounded in practice by the
// maintainer's snapshot policy, which keeps the delta chain short.
type loader struct {
	layout *layout.Layout
	cache  *cache
}

func newLoader(l *layout.Layout, c *cache) *loader {
	return &loader{layout: l, cache: c}
}

// load returns the materialized map at version v, populating the cache as
// it goes. v < 0 denotes the empty predecessor of version 0.
func (ld *loader) load(v layout.Version) (*Map, error) {
	if v < 0 {
		return newMap(), nil
	}
	if m, ok := ld.cache.get(v); ok {
		return m, nil
	}

	snapshotPath := ld.layout.SnapshotPath(v)
	if _, err := os.Stat(snapshotPath); err == nil {
		m, err := ld.loadSnapshot(snapshotPath)
		if err != nil {
			return nil, err
		}
		ld.cache.put(v, m)
		return m, nil
	}

	predecessor, err := ld.load(v - 1)
	if err != nil {
		return nil, err
	}
	working := predecessor.clone()

	deltaPath := ld.layout.DeltaPath(v)
	if _, err := os.Stat(deltaPath); err != nil {
		return nil, errIntegrity(err, "delta file for version %d is missing", v)
	}
	if err := ld.replay(deltaPath, working); err != nil {
		return nil, err
	}

	ld.cache.put(v, working)
	return working, nil
}

func (ld *loader) loadSnapshot(path string) (*Map, error) {
	m := newMap()
	for rec, err := range codec.ReadRecords(path) {
		if err != nil {
			return nil, errIntegrity(err, "cannot read snapshot %s", path)
		}
		m.set(rec.Key, rec.Value)
	}
	return m, nil
}

func (ld *loader) replay(path string, working *Map) error {
	for ev, err := range codec.ReadUpdates(path) {
		if err != nil {
			return errIntegrity(err, "cannot read delta %s", path)
		}
		switch ev.Kind {
		case codec.ValueUpdated:
			working.set(ev.Key, ev.Value)
		case codec.KeyRemoved:
			working.delete(ev.Key)
		}
	}
	return nil
}
