// Package registry implements the process-wide StoreRegistry: a mapping
// StoreId -> Store, a shared maintenance ticker, and the notify-coordinator
// handshake on first (and every subsequent) reference.
package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamkv/statestore/internal/coordinator"
	"github.com/streamkv/statestore/internal/layout"
	"github.com/streamkv/statestore/internal/store"
)

// Registry is a process-wide mapping StoreId -> Store. Stores are created
// lazily on first reference and held for the process lifetime or until
// ClearAll.
type Registry struct {
	root        string
	cfg         store.Config
	coordinator coordinator.Client
	identity    coordinator.HostIdentity
	log         zerolog.Logger
	metrics     *store.Metrics
	maintainer  *store.Maintainer

	mu      sync.Mutex
	stores  map[layout.StoreId]*store.Store
	started bool
}

// New builds a Registry rooted at root. The maintenance ticker is not
// started until the first Get call.
func New(root string, cfg store.Config, coord coordinator.Client, identity coordinator.HostIdentity, log zerolog.Logger) *Registry {
	metrics := &store.Metrics{}
	r := &Registry{
		root:        root,
		cfg:         cfg,
		coordinator: coord,
		identity:    identity,
		log:         log,
		metrics:     metrics,
		stores:      make(map[layout.StoreId]*store.Store),
	}
	r.maintainer = store.NewMaintainer(cfg.MaintenancePeriod, metrics, r.logMaintenanceError)
	return r
}

func (r *Registry) logMaintenanceError(id layout.StoreId, err error) {
	r.log.Warn().Err(err).Str("store", id.String()).Msg("maintenance pass failed; will retry next tick")
}

// Metrics exposes the shared maintenance counters for the admin surface.
func (r *Registry) Metrics() *store.Metrics { return r.metrics }

// Get returns the existing store for id or constructs one, starts the
// shared maintenance ticker on first use, and reports this process as the
// active instance to the coordinator. A coordinator RPC failure is
// defensive: this process may have been displaced, so the whole registry
// is cleared and the error is surfaced to the caller.
func (r *Registry) Get(ctx context.Context, id layout.StoreId) (*store.Store, error) {
	s, err := r.getOrOpen(id)
	if err != nil {
		return nil, err
	}

	if err := r.coordinator.ReportActiveInstance(ctx, id, r.identity); err != nil {
		r.log.Warn().Err(err).Str("store", id.String()).Msg("coordinator unreachable; clearing registry defensively")
		r.ClearAll()
		return nil, err
	}
	return s, nil
}

func (r *Registry) getOrOpen(id layout.StoreId) (*store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[id]; ok {
		return s, nil
	}

	s, err := store.Open(r.root, id, r.cfg, r.log)
	if err != nil {
		return nil, err
	}
	r.stores[id] = s
	r.maintainer.Register(s)
	if !r.started {
		r.maintainer.Start()
		r.started = true
	}
	return s, nil
}

// ClearAll cancels the maintenance ticker and drops all in-memory store
// handles. On-disk data is untouched — a later Get simply reopens the
// store from the same files.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maintainer.Stop()
	for id := range r.stores {
		r.maintainer.Unregister(id)
	}
	r.stores = make(map[layout.StoreId]*store.Store)
	r.started = false
}

// List returns every store currently held, for introspection.
func (r *Registry) List() []*store.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*store.Store, 0, len(r.stores))
	for _, s := range r.stores {
		out = append(out, s)
	}
	return out
}

// Maintainer exposes the shared maintainer so callers (e.g. the admin
// surface's force-maintenance endpoint) can trigger an out-of-band pass.
func (r *Registry) Maintainer() *store.Maintainer { return r.maintainer }
