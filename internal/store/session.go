package store

import (
	"iter"
	"os"

	"github.com/streamkv/statestore/internal/codec"
	"github.com/streamkv/statestore/internal/layout"
)

type sessionState int

const (
	sessionInitialized sessionState = iota
	sessionPrepared
	sessionCommitted
)

// UpdateSession is per-writer staging for one in-flight version
// transition. It is not safe to share across goroutines — each writer
// (potentially a speculatively duplicated task) owns its own session:
//
//	INITIALIZED --prepare(v)--> PREPARED --commit()--> COMMITTED
//	                   ^                      |
//	                   |                 (failure)
//	                   +---reset()-----------+
type UpdateSession struct {
	store *Store
	state sessionState

	version     layout.Version
	working     *Map
	tempFile    *os.File
	tempPath    string
	finalPath   string
	committedAt layout.Version
}

// Prepare loads the predecessor map (empty if v == 0), duplicates it into a
// fresh working map owned by this session, opens a temp staging file, and
// transitions to PREPARED. Any prior staging state is discarded first, as
// if reset() had been called.
func (s *UpdateSession) Prepare(v layout.Version) error {
	if v < 0 {
		return errConfig("version must be >= 0, got %d", v)
	}
	if err := s.Reset(); err != nil {
		return err
	}

	predecessor, err := s.store.loader.load(v - 1)
	if err != nil {
		return err
	}

	tempPath := s.store.layout.TempPath()
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return errIO(err, "open temp delta file %s", tempPath)
	}

	s.version = v
	s.working = predecessor.clone()
	s.tempFile = f
	s.tempPath = tempPath
	s.finalPath = s.store.layout.DeltaPath(v)
	s.state = sessionPrepared
	return nil
}

// Update computes fn(current value, ok) — fn receives the current value for
// key if present — inserts the result into the working map, and appends a
// ValueUpdated event to the temp file.
func (s *UpdateSession) Update(key []byte, fn func(value []byte, ok bool) []byte) error {
	if err := s.requirePrepared(); err != nil {
		return err
	}
	current, ok := s.working.Get(key)
	next := fn(current, ok)

	s.working.set(key, next)
	if err := codec.WriteEvent(s.tempFile, codec.StoreUpdate{
		Kind: codec.ValueUpdated, Key: key, Value: next,
	}); err != nil {
		return errIO(err, "append update event")
	}
	return nil
}

// Remove deletes every key matching predicate from the working map and
// appends a KeyRemoved event for each. Iteration tolerates the predicate
// matching (and thus removing) the key currently being visited; predicate
// is evaluated on keys only.
func (s *UpdateSession) Remove(predicate func(key []byte) bool) error {
	if err := s.requirePrepared(); err != nil {
		return err
	}

	var toRemove [][]byte
	for rec := range s.working.Records() {
		if predicate(rec.Key) {
			toRemove = append(toRemove, rec.Key)
		}
	}

	for _, key := range toRemove {
		s.working.delete(key)
		if err := codec.WriteEvent(s.tempFile, codec.StoreUpdate{
			Kind: codec.KeyRemoved, Key: key,
		}); err != nil {
			return errIO(err, "append remove event")
		}
	}
	return nil
}

// Commit closes the temp file, atomically renames it into place under the
// store-wide commit lock, and publishes the working map into the cache.
// On any failure the session reverts to INITIALIZED and the error is
// fatal; the delta file at <v>.delta (if one existed) is unchanged.
func (s *UpdateSession) Commit() error {
	if err := s.requirePrepared(); err != nil {
		return err
	}

	if err := s.tempFile.Sync(); err != nil {
		s.failCommit()
		return errIO(err, "sync temp delta file")
	}
	if err := s.tempFile.Close(); err != nil {
		s.failCommit()
		return errIO(err, "close temp delta file")
	}

	s.store.mu.Lock()
	renameErr := os.Rename(s.tempPath, s.finalPath)
	if renameErr == nil {
		s.store.cache.put(s.version, s.working)
	}
	s.store.mu.Unlock()

	if renameErr != nil {
		s.failCommit()
		return errIO(renameErr, "rename %s to %s", s.tempPath, s.finalPath)
	}

	s.committedAt = s.version
	s.state = sessionCommitted
	s.tempFile = nil
	return nil
}

// failCommit reverts session bookkeeping to INITIALIZED after a failed
// commit. The temp file, if still open, is left for Reset to clean up
// should the caller retry.
func (s *UpdateSession) failCommit() {
	s.state = sessionInitialized
}

// Reset closes any open temp stream, deletes the temp file if it exists,
// and returns to INITIALIZED. Safe to call from any state, including after
// a session has never been prepared.
func (s *UpdateSession) Reset() error {
	if s.tempFile != nil {
		_ = s.tempFile.Close()
		s.tempFile = nil
	}
	if s.tempPath != "" {
		if err := os.Remove(s.tempPath); err != nil && !os.IsNotExist(err) {
			return errIO(err, "remove temp delta file %s", s.tempPath)
		}
	}
	s.tempPath = ""
	s.working = nil
	s.state = sessionInitialized
	return nil
}

// LastCommittedData returns a lazy iteration of records at the just
// committed version, served from cache.
func (s *UpdateSession) LastCommittedData() (iter.Seq[codec.Record], error) {
	if s.state != sessionCommitted {
		return nil, errPrecondition("lastCommittedData requires a committed session")
	}
	m, ok := s.store.cache.get(s.committedAt)
	if !ok {
		return nil, errIntegrity(nil, "committed version %d missing from cache", s.committedAt)
	}
	return m.Records(), nil
}

// LastCommittedUpdates returns a lazy iteration of the events in the just
// committed delta file, re-read from disk.
func (s *UpdateSession) LastCommittedUpdates() (iter.Seq2[codec.StoreUpdate, error], error) {
	if s.state != sessionCommitted {
		return nil, errPrecondition("lastCommittedUpdates requires a committed session")
	}
	return codec.ReadUpdates(s.store.layout.DeltaPath(s.committedAt)), nil
}

func (s *UpdateSession) requirePrepared() error {
	if s.state != sessionPrepared {
		return errPrecondition("operation requires a prepared session, current state is %v", s.state)
	}
	return nil
}
