package store

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamkv/statestore/internal/codec"
	"github.com/streamkv/statestore/internal/layout"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr)
}

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), layout.StoreId{OperatorId: 1, PartitionId: 0}, cfg, testLogger())
	require.NoError(t, err)
	return s
}

func collect(t *testing.T, it iter.Seq2[codec.Record, error]) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for rec, err := range it {
		require.NoError(t, err)
		out[string(rec.Key)] = string(rec.Value)
	}
	return out
}

func TestStore_S1_FirstVersionFromEmpty(t *testing.T) {
	s := openTestStore(t, DefaultConfig())

	session := s.NewSession()
	require.NoError(t, session.Prepare(0))
	require.NoError(t, session.Update([]byte("a"), func([]byte, bool) []byte { return []byte("1") }))
	require.NoError(t, session.Update([]byte("b"), func([]byte, bool) []byte { return []byte("2") }))
	require.NoError(t, session.Commit())

	it, err := s.Iterator(0)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, collect(t, it))

	var events []codec.StoreUpdate
	for ev, err := range codec.ReadUpdates(s.Layout().DeltaPath(0)) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, codec.ValueUpdated, ev.Kind)
	}
}

func TestStore_S2_UpdateAndRemoveFromPredecessor(t *testing.T) {
	s := openTestStore(t, DefaultConfig())

	first := s.NewSession()
	require.NoError(t, first.Prepare(0))
	require.NoError(t, first.Update([]byte("a"), func([]byte, bool) []byte { return []byte("1") }))
	require.NoError(t, first.Update([]byte("b"), func([]byte, bool) []byte { return []byte("2") }))
	require.NoError(t, first.Commit())

	second := s.NewSession()
	require.NoError(t, second.Prepare(1))
	require.NoError(t, second.Update([]byte("a"), func(v []byte, ok bool) []byte {
		require.True(t, ok)
		n, _ := strconv.Atoi(string(v))
		return []byte(strconv.Itoa(n + 10))
	}))
	require.NoError(t, second.Remove(func(key []byte) bool { return string(key) == "b" }))
	require.NoError(t, second.Commit())

	it, err := s.Iterator(1)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "11"}, collect(t, it))

	var events []codec.StoreUpdate
	for ev, err := range codec.ReadUpdates(s.Layout().DeltaPath(1)) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, codec.ValueUpdated, events[0].Kind)
	assert.Equal(t, []byte("a"), events[0].Key)
	assert.Equal(t, []byte("11"), events[0].Value)
	assert.Equal(t, codec.KeyRemoved, events[1].Kind)
	assert.Equal(t, []byte("b"), events[1].Key)
}

func TestStore_S3_LatestIteratorSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	id := layout.StoreId{OperatorId: 1, PartitionId: 0}

	s, err := Open(root, id, DefaultConfig(), testLogger())
	require.NoError(t, err)

	first := s.NewSession()
	require.NoError(t, first.Prepare(0))
	require.NoError(t, first.Update([]byte("a"), func([]byte, bool) []byte { return []byte("1") }))
	require.NoError(t, first.Update([]byte("b"), func([]byte, bool) []byte { return []byte("2") }))
	require.NoError(t, first.Commit())

	second := s.NewSession()
	require.NoError(t, second.Prepare(1))
	require.NoError(t, second.Update([]byte("a"), func([]byte, bool) []byte { return []byte("11") }))
	require.NoError(t, second.Remove(func(key []byte) bool { return string(key) == "b" }))
	require.NoError(t, second.Commit())

	// Simulate a crash and restart: reopen the store against the same
	// directory with an empty in-memory cache.
	reopened, err := Open(root, id, DefaultConfig(), testLogger())
	require.NoError(t, err)

	it, err := reopened.LatestIterator()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "11"}, collect(t, it))
}

func TestStore_S4_MaintainerSnapshotsLongDeltaChain(t *testing.T) {
	cfg := Config{NumBatchesToRetain: 100, MaxDeltaChainForSnapshots: 10, MaintenancePeriod: 0}
	s := openTestStore(t, cfg)

	for v := layout.Version(0); v <= 10; v++ {
		session := s.NewSession()
		require.NoError(t, session.Prepare(v))
		key := []byte(fmt.Sprintf("k%d", v))
		require.NoError(t, session.Update(key, func([]byte, bool) []byte { return []byte("v") }))
		require.NoError(t, session.Commit())
	}

	require.NoError(t, s.RunMaintenance(nil))

	_, err := os.Stat(s.Layout().SnapshotPath(10))
	assert.NoError(t, err, "expected 10.snapshot to exist after the delta run exceeded MaxDeltaChainForSnapshots")
}

func TestStore_S5_RetentionNeverDropsBelowACoveringSnapshot(t *testing.T) {
	cfg := Config{NumBatchesToRetain: 2, MaxDeltaChainForSnapshots: 10, MaintenancePeriod: 0}
	s := openTestStore(t, cfg)

	for v := layout.Version(0); v <= 10; v++ {
		session := s.NewSession()
		require.NoError(t, session.Prepare(v))
		key := []byte(fmt.Sprintf("k%d", v))
		require.NoError(t, session.Update(key, func([]byte, bool) []byte { return []byte("v") }))
		require.NoError(t, session.Commit())
	}

	// One maintenance pass both writes 10.snapshot (delta run of 11 exceeds
	// 10) and prunes in the same tick. The only snapshot produced is at
	// version 10, which does not cover earliest=8: nothing below version 0
	// is deletable without breaking replay of version 8, so cleanup must
	// leave the whole chain from 0 through 10 in place.
	require.NoError(t, s.RunMaintenance(nil))

	for v := layout.Version(0); v < 10; v++ {
		_, err := os.Stat(s.Layout().DeltaPath(v))
		assert.NoError(t, err, "delta file for version %d must survive: no snapshot at or below 8 covers it", v)
	}

	it, err := s.Iterator(8)
	require.NoError(t, err)
	_ = collect(t, it) // must not error: version 8 is still fully replayable
}

func TestStore_S6_ConcurrentCommitsToSameVersionLastRenameWins(t *testing.T) {
	s := openTestStore(t, DefaultConfig())

	for v := layout.Version(0); v < 3; v++ {
		session := s.NewSession()
		require.NoError(t, session.Prepare(v))
		require.NoError(t, session.Commit())
	}

	a := s.NewSession()
	require.NoError(t, a.Prepare(3))
	require.NoError(t, a.Update([]byte("x"), func([]byte, bool) []byte { return []byte("1") }))

	b := s.NewSession()
	require.NoError(t, b.Prepare(3))
	require.NoError(t, b.Update([]byte("x"), func([]byte, bool) []byte { return []byte("2") }))

	require.NoError(t, a.Commit())
	require.NoError(t, b.Commit())

	it, err := s.Iterator(3)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"x": "2"}, collect(t, it))

	entries, err := os.ReadDir(s.Layout().Dir())
	require.NoError(t, err)
	tempCount := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".delta" && filepath.Ext(e.Name()) != ".snapshot" {
			tempCount++
		}
	}
	assert.Zero(t, tempCount, "no temp files should remain after both sessions committed")
}

func errKind(t *testing.T, err error) ErrorKind {
	t.Helper()
	var se *Error
	require.True(t, errors.As(err, &se), "expected a *store.Error, got %T: %v", err, err)
	return se.Kind
}

// TestUpdateSession_PreconditionViolationBeforePrepare covers the
// PreconditionViolation row: calling Update, Remove or Commit on a session
// that has never been (or is no longer) PREPARED must fail fatally rather
// than operate on a nil working map.
func TestUpdateSession_PreconditionViolationBeforePrepare(t *testing.T) {
	s := openTestStore(t, DefaultConfig())
	session := s.NewSession()

	err := session.Update([]byte("a"), func([]byte, bool) []byte { return []byte("1") })
	require.Error(t, err)
	assert.Equal(t, PreconditionViolation, errKind(t, err))

	err = session.Remove(func([]byte) bool { return true })
	require.Error(t, err)
	assert.Equal(t, PreconditionViolation, errKind(t, err))

	err = session.Commit()
	require.Error(t, err)
	assert.Equal(t, PreconditionViolation, errKind(t, err))
}

// TestUpdateSession_PreconditionViolationOnDoubleCommit covers the same row
// for a session that already reached COMMITTED: a second Commit without an
// intervening Prepare must not silently re-publish.
func TestUpdateSession_PreconditionViolationOnDoubleCommit(t *testing.T) {
	s := openTestStore(t, DefaultConfig())
	session := s.NewSession()
	require.NoError(t, session.Prepare(0))
	require.NoError(t, session.Commit())

	err := session.Commit()
	require.Error(t, err)
	assert.Equal(t, PreconditionViolation, errKind(t, err))
}

// TestLoader_IntegrityErrorOnMissingDelta covers the IntegrityError row: a
// delta file required to replay a later version disappearing from disk
// (truncated retention, manual tampering, partial copy) must be fatal and
// distinguishable from an IoError, not silently treated as "version empty".
func TestLoader_IntegrityErrorOnMissingDelta(t *testing.T) {
	root := t.TempDir()
	id := layout.StoreId{OperatorId: 1, PartitionId: 0}
	s, err := Open(root, id, DefaultConfig(), testLogger())
	require.NoError(t, err)

	for v := layout.Version(0); v <= 2; v++ {
		session := s.NewSession()
		require.NoError(t, session.Prepare(v))
		require.NoError(t, session.Update([]byte("k"), func([]byte, bool) []byte { return []byte("v") }))
		require.NoError(t, session.Commit())
	}

	require.NoError(t, os.Remove(s.Layout().DeltaPath(1)))

	// Reopen to discard the in-memory cache so loading version 2 is forced
	// to replay from disk, which requires the now-deleted version 1 delta.
	reopened, err := Open(root, id, DefaultConfig(), testLogger())
	require.NoError(t, err)

	_, err = reopened.Iterator(2)
	require.Error(t, err)
	assert.Equal(t, IntegrityError, errKind(t, err))
}

// TestUpdateSession_IoErrorOnCommitRevertsToInitialized covers the IoError
// row and testable property 3 (commit atomicity): when the final rename
// fails, Commit must return an IoError and the session must revert to
// INITIALIZED rather than being left stuck in PREPARED or falsely advancing
// to COMMITTED.
func TestUpdateSession_IoErrorOnCommitRevertsToInitialized(t *testing.T) {
	s := openTestStore(t, DefaultConfig())
	session := s.NewSession()
	require.NoError(t, session.Prepare(0))
	require.NoError(t, session.Update([]byte("a"), func([]byte, bool) []byte { return []byte("1") }))

	// Remove the partition directory out from under the session so the
	// rename in Commit fails with ENOENT on the destination path.
	require.NoError(t, os.RemoveAll(s.Layout().Dir()))

	err := session.Commit()
	require.Error(t, err)
	assert.Equal(t, IoError, errKind(t, err))

	// failCommit must have reverted bookkeeping to INITIALIZED: a bare
	// Reset (as the caller would do before retrying) succeeds, and a fresh
	// Prepare on a recreated store works normally.
	require.NoError(t, session.Reset())

	require.NoError(t, s.Layout().EnsureDir())
	retry := s.NewSession()
	require.NoError(t, retry.Prepare(0))
	require.NoError(t, retry.Commit())
}

// TestConfig_ValidateRejectsNonPositiveTuningKnobs covers the ConfigError
// row for the construction-time validation path.
func TestConfig_ValidateRejectsNonPositiveTuningKnobs(t *testing.T) {
	cfg := Config{NumBatchesToRetain: 0, MaxDeltaChainForSnapshots: 10, MaintenancePeriod: 0}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, ConfigError, errKind(t, err))
}

// TestUpdateSession_PrepareRejectsNegativeVersion covers the ConfigError row
// for the per-operation validation path: Prepare must reject a negative
// version outright instead of treating it as "the empty predecessor".
func TestUpdateSession_PrepareRejectsNegativeVersion(t *testing.T) {
	s := openTestStore(t, DefaultConfig())
	session := s.NewSession()

	err := session.Prepare(-1)
	require.Error(t, err)
	assert.Equal(t, ConfigError, errKind(t, err))
}
