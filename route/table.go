// Package route implements the distance-vector route table (C4): the
// map from an Address to its best known neighbour, learned from
// announcements and expired on staleness, per spec.md §4.4.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package route

import (
	"context"
	"sync"
	"time"

	"github.com/irdest-go/ratman/endpoint"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/nlog"
)

// EndpointID identifies one Endpoint owned by the router, paired with a
// endpoint.NeighbourID to address one directly connected neighbour.
type EndpointID uint16

// Entry is one route-table record: an address reachable via a given
// endpoint/neighbour pair, with freshness and a bandwidth score used to
// break hop-count ties.
type Entry struct {
	Address      id.Address
	ViaEndpoint  EndpointID
	ViaNeighbour endpoint.NeighbourID
	HopCount     uint32
	LastSeen     time.Time
	BandwidthEWMA float64
	Stale        bool // seeded from persistence, cleared by a fresh announcement
}

// Reachability is the result of a Table.Reachable lookup.
type Reachability struct {
	Local  bool
	Remote bool
	Endpoint  EndpointID
	Neighbour endpoint.NeighbourID
}

// Persister durably records route upserts and expiries and seeds the
// table on startup; implemented by journal.Store.
type Persister interface {
	SaveRoute(addr id.Address, e Entry) error
	LoadRoutes() (map[id.Address][]Entry, error)
	DeleteRoute(addr id.Address, via EndpointID, nb endpoint.NeighbourID) error
}

// Table maps an Address to the set of entries learned for it across
// every endpoint, under a reader-preferred lock: lookups (the switch's
// hot path) take RLock, upserts and expiry take Lock.
type Table struct {
	mu   sync.RWMutex
	byAddr map[id.Address][]Entry

	localAddrs map[id.Address]bool

	announceTTL time.Duration
	persist     Persister

	wantedMu sync.Mutex
	wanted   map[id.Address][]func(Reachability)
}

// New constructs an empty table. announceTTL entries are expired by
// RunExpiry after that long without a refreshing announcement
// (defaults to 3x the announce period per spec.md §4.4).
func New(announceTTL time.Duration, persist Persister) *Table {
	return &Table{
		byAddr:      make(map[id.Address][]Entry),
		localAddrs:  make(map[id.Address]bool),
		announceTTL: announceTTL,
		persist:     persist,
		wanted:      make(map[id.Address][]func(Reachability)),
	}
}

// Seed loads the routes partition on startup; every loaded entry is
// marked Stale until refreshed by a new announcement, per spec.md §4.4
// ("Persistence").
func (t *Table) Seed() error {
	if t.persist == nil {
		return nil
	}
	loaded, err := t.persist.LoadRoutes()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, entries := range loaded {
		for i := range entries {
			entries[i].Stale = true
		}
		t.byAddr[addr] = entries
	}
	return nil
}

// AddLocal registers addr as locally owned: Reachable(addr) now returns
// {Local: true} regardless of any remote entries learned for it.
func (t *Table) AddLocal(addr id.Address) {
	t.mu.Lock()
	t.localAddrs[addr] = true
	t.mu.Unlock()
}

func (t *Table) RemoveLocal(addr id.Address) {
	t.mu.Lock()
	delete(t.localAddrs, addr)
	t.mu.Unlock()
}

func (t *Table) IsLocal(addr id.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.localAddrs[addr]
}

// LocalAddresses lists every address currently owned by this router,
// used to originate periodic announcements.
func (t *Table) LocalAddresses() []id.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]id.Address, 0, len(t.localAddrs))
	for a := range t.localAddrs {
		out = append(out, a)
	}
	return out
}

// Upsert records an announcement for addr arriving via (ep, nb) with
// the given hop count, tie-breaking per spec.md §4.4: prefer lower
// HopCount, then most recent LastSeen, then highest bandwidth EWMA.
func (t *Table) Upsert(addr id.Address, ep EndpointID, nb endpoint.NeighbourID, hopCount uint32, bandwidthEWMA float64) {
	now := time.Now()
	entry := Entry{
		Address:       addr,
		ViaEndpoint:   ep,
		ViaNeighbour:  nb,
		HopCount:      hopCount,
		LastSeen:      now,
		BandwidthEWMA: bandwidthEWMA,
	}

	t.mu.Lock()
	entries := t.byAddr[addr]
	replaced := false
	for i := range entries {
		if entries[i].ViaEndpoint == ep && entries[i].ViaNeighbour == nb {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	t.byAddr[addr] = entries
	t.mu.Unlock()

	if t.persist != nil {
		if err := t.persist.SaveRoute(addr, entry); err != nil {
			nlog.Warningf("route: failed to persist route for %s: %v", addr, err)
		}
	}

	t.drainWanted(addr)
}

// best picks the lowest-cost live entry for addr: lowest hop count,
// then most recent LastSeen, then highest bandwidth EWMA.
func best(entries []Entry) (Entry, bool) {
	var (
		winner Entry
		found  bool
	)
	for _, e := range entries {
		if !found {
			winner, found = e, true
			continue
		}
		switch {
		case e.HopCount < winner.HopCount:
			winner = e
		case e.HopCount > winner.HopCount:
			continue
		case e.LastSeen.After(winner.LastSeen):
			winner = e
		case e.LastSeen.Equal(winner.LastSeen) && e.BandwidthEWMA > winner.BandwidthEWMA:
			winner = e
		}
	}
	return winner, found
}

// Reachable reports how addr can currently be reached: Local if it is a
// locally owned address, Remote(endpoint, neighbour) if a live route
// entry exists, or neither (the zero value) if unknown.
func (t *Table) Reachable(addr id.Address) Reachability {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.localAddrs[addr] {
		return Reachability{Local: true}
	}
	e, ok := best(t.byAddr[addr])
	if !ok {
		return Reachability{}
	}
	return Reachability{Remote: true, Endpoint: e.ViaEndpoint, Neighbour: e.ViaNeighbour}
}

// Known reports whether any entry (local or remote, even stale) exists
// for addr, used by PEER/ADDR list queries.
func (t *Table) Known(addr id.Address) bool {
	r := t.Reachable(addr)
	return r.Local || r.Remote
}

// WaitReachable registers fn to be invoked exactly once: immediately if
// addr is already reachable, otherwise the next time an announcement for
// addr is upserted — the "wanted address
// drain" hook the switch uses to dispatch pending journaled frames
// once a route appears (spec.md §4.7).
func (t *Table) WaitReachable(addr id.Address, fn func(Reachability)) {
	if r := t.Reachable(addr); r.Local || r.Remote {
		fn(r)
		return
	}
	t.wantedMu.Lock()
	t.wanted[addr] = append(t.wanted[addr], fn)
	t.wantedMu.Unlock()
}

func (t *Table) drainWanted(addr id.Address) {
	t.wantedMu.Lock()
	fns := t.wanted[addr]
	delete(t.wanted, addr)
	t.wantedMu.Unlock()
	if len(fns) == 0 {
		return
	}
	r := t.Reachable(addr)
	for _, fn := range fns {
		fn(r)
	}
}

// RunExpiry scans every entry and removes any that have not been
// refreshed within announceTTL, persisting the deletion. It blocks
// until ctx is cancelled, sleeping interval between scans.
func (t *Table) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.expireOnce()
		}
	}
}

func (t *Table) expireOnce() {
	now := time.Now()
	t.mu.Lock()
	var toDelete []Entry
	for addr, entries := range t.byAddr {
		kept := entries[:0]
		for _, e := range entries {
			if now.Sub(e.LastSeen) > t.announceTTL {
				toDelete = append(toDelete, e)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(t.byAddr, addr)
		} else {
			t.byAddr[addr] = kept
		}
	}
	t.mu.Unlock()

	if t.persist == nil {
		return
	}
	for _, e := range toDelete {
		if err := t.persist.DeleteRoute(e.Address, e.ViaEndpoint, e.ViaNeighbour); err != nil {
			nlog.Warningf("route: failed to delete expired route for %s: %v", e.Address, err)
		}
	}
}

// Snapshot returns every address with a live entry, for PEER/LIST and
// LINK/LIST queries.
func (t *Table) Snapshot() map[id.Address]Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[id.Address]Entry, len(t.byAddr))
	for addr, entries := range t.byAddr {
		if e, ok := best(entries); ok {
			out[addr] = e
		}
	}
	return out
}
