// Package orchestrator owns the set of ClientRecords a CLI or daemon
// is tracking, one per configured cache. Each record is independent —
// the session engine only ever touches the one record it was handed —
// so Refresh and RefreshAll need no cross-record locking.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/mellowdrifter/rtrsync/internal/protocol"
	"github.com/mellowdrifter/rtrsync/internal/rtrclient"
	"github.com/mellowdrifter/rtrsync/internal/rtrstate"
)

// Store is the persistence boundary the orchestrator depends on. The
// core orchestrator logic never imports encoding/json or os; that
// lives one layer further out, in internal/store.
type Store interface {
	Load(id int) (*rtrclient.Record, error)
	Save(id int, rec *rtrclient.Record) error
	List() ([]int, error)
}

// Orchestrator manages N independent client sessions against N caches,
// persisting each through Store and offering a merged view over all
// of their States.
type Orchestrator struct {
	store  Store
	engine *rtrclient.Engine
}

// New returns an Orchestrator backed by store and driving episodes
// with engine.
func New(store Store, engine *rtrclient.Engine) *Orchestrator {
	return &Orchestrator{store: store, engine: engine}
}

// Init creates and persists one ClientRecord per server, with ids
// 0..len(servers)-1, willing to speak any of supportedVersions. It
// does not run an episode; the first Reset happens on the first
// Refresh or explicit Reset call.
func (o *Orchestrator) Init(servers []Cache, supportedVersions []protocol.Version) error {
	for id, c := range servers {
		rec := rtrclient.NewRecord(c.Server, c.Port, supportedVersions)
		if err := o.store.Save(id, rec); err != nil {
			return fmt.Errorf("orchestrator: init client %d: %w", id, err)
		}
	}
	return nil
}

// Cache is one server:port pair passed to Init.
type Cache struct {
	Server string
	Port   string
}

// Reset forces a full Reset episode against client id, ignoring any
// stored EndOfData (it is cleared before the episode runs) and
// persisting the record on return, even on failure — LastFailure must
// survive the process restarting.
func (o *Orchestrator) Reset(ctx context.Context, id int) error {
	rec, err := o.store.Load(id)
	if err != nil {
		return fmt.Errorf("orchestrator: load client %d: %w", id, err)
	}
	rec.EOD = nil
	rec.State = rtrstate.Empty()

	syncErr := o.engine.Sync(ctx, rec, true)
	if err := o.store.Save(id, rec); err != nil {
		return fmt.Errorf("orchestrator: save client %d: %w", id, err)
	}
	return syncErr
}

// Refresh runs one synchronisation attempt against client id subject
// to its timer gates, or bypasses them when force is true, persisting
// the record on return.
func (o *Orchestrator) Refresh(ctx context.Context, id int, force bool) error {
	rec, err := o.store.Load(id)
	if err != nil {
		return fmt.Errorf("orchestrator: load client %d: %w", id, err)
	}

	syncErr := o.engine.Sync(ctx, rec, force)
	if err := o.store.Save(id, rec); err != nil {
		return fmt.Errorf("orchestrator: save client %d: %w", id, err)
	}
	return syncErr
}

// RefreshAll runs Refresh for every persisted client id. A failure
// against one cache never aborts the others; the return value maps
// only the ids that failed to their error.
func (o *Orchestrator) RefreshAll(ctx context.Context, force bool) map[int]error {
	ids, err := o.store.List()
	if err != nil {
		return map[int]error{-1: fmt.Errorf("orchestrator: list clients: %w", err)}
	}

	failures := make(map[int]error)
	for _, id := range ids {
		if err := o.Refresh(ctx, id, force); err != nil {
			failures[id] = err
		}
	}
	return failures
}

// Merged folds every persisted client's State into one via
// rtrstate.State.Merge, in ascending id order so the fold is
// deterministic (merge is commutative over VRPs/ASPAs, but a
// RouterKey conflict's error message should not depend on map
// iteration order).
func (o *Orchestrator) Merged() (rtrstate.State, error) {
	ids, err := o.store.List()
	if err != nil {
		return rtrstate.State{}, fmt.Errorf("orchestrator: list clients: %w", err)
	}
	sort.Ints(ids)

	out := rtrstate.Empty()
	for _, id := range ids {
		rec, err := o.store.Load(id)
		if err != nil {
			return rtrstate.State{}, fmt.Errorf("orchestrator: load client %d: %w", id, err)
		}
		merged, err := out.Merge(rec.State)
		if err != nil {
			return rtrstate.State{}, fmt.Errorf("orchestrator: merge client %d: %w", id, err)
		}
		out = merged
	}
	return out, nil
}

// State returns the persisted State for a single client id, without
// merging.
func (o *Orchestrator) State(id int) (rtrstate.State, error) {
	rec, err := o.store.Load(id)
	if err != nil {
		return rtrstate.State{}, fmt.Errorf("orchestrator: load client %d: %w", id, err)
	}
	return rec.State, nil
}
