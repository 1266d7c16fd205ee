// Package store implements the version-chain storage engine: an
// append-only sequence of delta files per partition, periodically
// compacted into snapshot files, backed by a bounded in-memory map cache,
// with atomic single-writer commit semantics on a shared filesystem.
package store

import (
	"fmt"
	"iter"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamkv/statestore/internal/codec"
	"github.com/streamkv/statestore/internal/layout"
)

// Store is one shard: the data for one (operatorId, partitionId) pair. It
// is safe for concurrent use by multiple UpdateSessions and readers.
type Store struct {
	id     layout.StoreId
	layout *layout.Layout
	cache  *cache
	loader *loader
	cfg    Config
	log    zerolog.Logger

	// mu is the per-store commit lock: it serializes the rename+publish
	// critical section in commit. The cache carries its own lock, and
	// maintenance does not take mu, neither for enumeration nor for cache
	// eviction.
	mu sync.Mutex
}

// Open constructs or resumes a store rooted at root/<operatorId>/<partitionId>.
func Open(root string, id layout.StoreId, cfg Config, log zerolog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := layout.New(root, id, log)
	if err := checkNotAFile(l.Dir()); err != nil {
		return nil, err
	}
	if err := l.EnsureDir(); err != nil {
		return nil, errIO(err, "open store %s", id)
	}
	c := newCache()
	return &Store{
		id:     id,
		layout: l,
		cache:  c,
		loader: newLoader(l, c),
		cfg:    cfg,
		log:    log.With().Str("store", id.String()).Logger(),
	}, nil
}

func checkNotAFile(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return nil // does not exist yet — fine, EnsureDir will create it
	}
	if !info.IsDir() {
		return errConfig("store path %s exists and is not a directory", dir)
	}
	return nil
}

// ID returns this store's identity.
func (s *Store) ID() layout.StoreId { return s.id }

// Config returns this store's tuning configuration.
func (s *Store) Config() Config { return s.cfg }

// Layout exposes the file layout for the maintainer.
func (s *Store) Layout() *layout.Layout { return s.layout }

// CacheSize reports the number of materialized versions currently held in
// memory, for introspection.
func (s *Store) CacheSize() int { return s.cache.size() }

// NewSession returns a fresh, caller-owned staging buffer for this store.
// Sessions are per-writer: do not share one across goroutines.
func (s *Store) NewSession() *UpdateSession {
	return &UpdateSession{store: s, state: sessionInitialized}
}

// Iterator materializes version v (loading and replaying from disk if
// necessary) and returns a lazy sequence over its (key, value) pairs.
func (s *Store) Iterator(v layout.Version) (iter.Seq2[codec.Record, error], error) {
	if v < 0 {
		return nil, errPrecondition("version must be >= 0, got %d", v)
	}
	m, err := s.loader.load(v)
	if err != nil {
		return nil, err
	}
	return wrapMapSeq(m), nil
}

// LatestIterator iterates the maximum of {versions on disk} union {versions
// in cache} — a version that has been committed but not yet snapshotted
// still counts.
func (s *Store) LatestIterator() (iter.Seq2[codec.Record, error], error) {
	v, ok, err := s.latestVersion()
	if err != nil {
		return nil, err
	}
	if !ok {
		return wrapMapSeq(newMap()), nil
	}
	return s.Iterator(v)
}

// LatestVersion reports the maximum of {versions on disk} union {versions
// in cache}, and whether any version has ever been committed.
func (s *Store) LatestVersion() (layout.Version, bool, error) {
	return s.latestVersion()
}

func (s *Store) latestVersion() (layout.Version, bool, error) {
	files, err := s.layout.Enumerate()
	if err != nil {
		return 0, false, errIO(err, "enumerate store files")
	}
	found := false
	var latest layout.Version
	if len(files) > 0 {
		latest = files[len(files)-1].Version
		found = true
	}
	if cv, ok := s.cache.maxVersion(); ok && (!found || cv > latest) {
		latest = cv
		found = true
	}
	return latest, found, nil
}

func wrapMapSeq(m *Map) iter.Seq2[codec.Record, error] {
	return func(yield func(codec.Record, error) bool) {
		for rec := range m.Records() {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *Store) String() string {
	return fmt.Sprintf("Store{%s}", s.id)
}
