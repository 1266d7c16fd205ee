package store

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamkv/statestore/internal/codec"
	"github.com/streamkv/statestore/internal/layout"
)

// Metrics are the maintainer's side-channel counters. A nil *Metrics is
// valid everywhere below and simply does nothing — metrics never affect
// correctness.
type Metrics struct {
	SnapshotsWritten    atomic.Int64
	FilesPruned         atomic.Int64
	CacheEntriesDropped atomic.Int64
	TicksFailed         atomic.Int64
}

// maintaining is a per-store guard so a slow snapshot write on one tick
// never causes a second tick to queue up behind it; the tick is skipped
// instead (supplemented behavior — the original Spark provider does the
// same rather than letting maintenance passes pile up). Keyed by the
// store's on-disk directory rather than bare StoreId: two Stores opened
// from different data directories can share an (OperatorId, PartitionId)
// without sharing any actual state, and must not share a guard either.
var maintenanceGuards sync.Map // string (store dir) -> *sync.Mutex

func guardFor(dir string) *sync.Mutex {
	v, _ := maintenanceGuards.LoadOrStore(dir, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// RunMaintenance performs one maintenance pass for this store: compacting a
// long delta chain into a snapshot, then pruning files and cache entries
// below the retention horizon. Errors are returned to the caller (the
// Maintainer ticker logs and swallows them); RunMaintenance itself never
// panics on a missing store directory.
func (s *Store) RunMaintenance(m *Metrics) error {
	guard := guardFor(s.layout.Dir())
	if !guard.TryLock() {
		return nil // a pass is already in flight for this store; skip this tick
	}
	defer guard.Unlock()

	files, err := s.layout.Enumerate()
	if err != nil {
		return errIO(err, "enumerate store files during maintenance")
	}
	if len(files) == 0 {
		return nil // nothing committed yet
	}

	latest := files[len(files)-1].Version

	if err := s.maybeSnapshot(files, latest, m); err != nil {
		return err
	}
	if err := s.cleanup(latest, m); err != nil {
		return err
	}
	return nil
}

// maybeSnapshot writes <latest>.snapshot when the delta run since the last
// snapshot exceeds MaxDeltaChainForSnapshots and latest's map is cached. If
// latest's map is not cached, some other process is the active writer for
// this partition and we skip — we have nothing authoritative to snapshot.
func (s *Store) maybeSnapshot(files []layout.File, latest layout.Version, m *Metrics) error {
	runLength := deltaRunLength(files, latest)
	if runLength <= s.cfg.MaxDeltaChainForSnapshots {
		return nil
	}

	mp, ok := s.cache.get(latest)
	if !ok {
		return nil
	}

	path := s.layout.SnapshotPath(latest)
	tmp := s.layout.TempPath()
	f, err := os.Create(tmp)
	if err != nil {
		return errIO(err, "create temp snapshot %s", tmp)
	}
	if err := codec.WriteRecords(f, mp.Records()); err != nil {
		f.Close()
		os.Remove(tmp)
		return errIO(err, "write snapshot %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errIO(err, "close temp snapshot %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errIO(err, "rename %s to %s", tmp, path)
	}
	if m != nil {
		m.SnapshotsWritten.Add(1)
	}
	return nil
}

// deltaRunLength counts the consecutive delta files ending at latest, back
// to the most recent snapshot (or to the start of the chain if none). A
// non-contiguous version gap or a snapshot file ends the run. This counts
// only the run since the last snapshot, not every delta file present — the
// naive "count all deltas" reading silently over-triggers snapshots on a
// store that has already been compacted.
func deltaRunLength(files []layout.File, latest layout.Version) int {
	run := 0
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		if f.Version != latest-layout.Version(run) {
			break
		}
		if f.Kind == layout.Snapshot {
			break
		}
		run++
	}
	return run
}

// cleanup deletes files and cache entries below the retention horizon.
// Maintenance never deletes a file whose version is >= latest-retain, and
// what may be deleted below that is further constrained: the earliest
// retained version must still have a complete chain (a covering snapshot
// at some s <= earliest, or the full chain back to version 0). We compute
// the covering file explicitly rather than assuming the newest snapshot
// covers it — a newest snapshot newer than `earliest` does NOT cover
// `earliest`, and deleting on that assumption would silently corrupt
// replay.
func (s *Store) cleanup(latest layout.Version, m *Metrics) error {
	retain := layout.Version(s.cfg.NumBatchesToRetain)
	earliest := latest - retain
	if earliest < 0 {
		return nil
	}

	files, err := s.layout.Enumerate()
	if err != nil {
		return errIO(err, "enumerate store files during cleanup")
	}

	covering := files[0].Version
	for _, f := range files {
		if f.Kind == layout.Snapshot && f.Version <= earliest && f.Version > covering {
			covering = f.Version
		}
	}
	// If no snapshot at or below earliest was found, `covering` stays at
	// the oldest file present — i.e. nothing below it is deletable,
	// because the chain must be replayed from the start.
	hasCoveringSnapshot := false
	for _, f := range files {
		if f.Kind == layout.Snapshot && f.Version <= earliest {
			hasCoveringSnapshot = true
			break
		}
	}
	if !hasCoveringSnapshot {
		covering = files[0].Version
	}

	for _, f := range files {
		if f.Version < covering {
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				return errIO(err, "remove %s", f.Path)
			}
			if m != nil {
				m.FilesPruned.Add(1)
			}
		}
	}

	before := s.cache.size()
	s.cache.evictBelow(earliest)
	if m != nil {
		m.CacheEntriesDropped.Add(int64(before - s.cache.size()))
	}
	return nil
}

// Maintainer runs RunMaintenance for a set of registered stores on a
// single shared ticker, one shared across all stores rather than one per
// store. Stores are added and removed by the caller through Register and
// Unregister; Maintainer does not own their lifecycle.
type Maintainer struct {
	period time.Duration
	log    func(storeID layout.StoreId, err error)
	mu     sync.Mutex
	stores map[layout.StoreId]*Store
	stop   chan struct{}
	done   chan struct{}
	metrics *Metrics
}

// NewMaintainer builds a Maintainer that ticks every period. onError is
// called (never panics expected) whenever a store's maintenance pass
// returns an error — the caller is expected to log it; the error is always
// swallowed here.
func NewMaintainer(period time.Duration, metrics *Metrics, onError func(layout.StoreId, error)) *Maintainer {
	if onError == nil {
		onError = func(layout.StoreId, error) {}
	}
	return &Maintainer{
		period:  period,
		log:     onError,
		stores:  make(map[layout.StoreId]*Store),
		metrics: metrics,
	}
}

// Register adds a store to the maintenance rotation.
func (m *Maintainer) Register(s *Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[s.ID()] = s
}

// Unregister removes a store from the maintenance rotation.
func (m *Maintainer) Unregister(id layout.StoreId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, id)
}

// Start begins the shared ticker on a background goroutine. Calling Start
// twice without an intervening Stop is a no-op. A non-positive period means
// "manual maintenance only" — Start does not arm a ticker at all, and
// stores registered with this Maintainer are only ever compacted/pruned via
// RunOnce.
func (m *Maintainer) Start() {
	if m.period <= 0 {
		return
	}

	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop := m.stop
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.tick()
			}
		}
	}()
}

// Stop cancels the ticker and waits for the in-flight tick, if any, to
// finish.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	stop := m.stop
	done := m.done
	m.stop = nil
	m.done = nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Maintainer) tick() {
	m.mu.Lock()
	snapshot := make([]*Store, 0, len(m.stores))
	for _, s := range m.stores {
		snapshot = append(snapshot, s)
	}
	m.mu.Unlock()

	for _, s := range snapshot {
		if err := s.RunMaintenance(m.metrics); err != nil {
			if m.metrics != nil {
				m.metrics.TicksFailed.Add(1)
			}
			m.log(s.ID(), err)
		}
	}
}

// RunOnce forces an immediate maintenance pass on a single store, bypassing
// the ticker — used by the admin HTTP surface's operational escape hatch.
func (m *Maintainer) RunOnce(id layout.StoreId) error {
	m.mu.Lock()
	s, ok := m.stores[id]
	m.mu.Unlock()
	if !ok {
		return errPrecondition("store %s is not registered with this maintainer", id)
	}
	return s.RunMaintenance(m.metrics)
}
