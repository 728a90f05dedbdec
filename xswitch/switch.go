package xswitch

import (
	"context"
	"sync"

	"github.com/irdest-go/ratman/endpoint"
	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
	"github.com/irdest-go/ratman/internal/nlog"
	"github.com/irdest-go/ratman/route"
)

// Journal is the durable-storage contract the switch depends on.
// Implemented by journal.Store.
type Journal interface {
	IsUnknown(fid id.Ident32) bool
	SaveAsKnown(fid id.Ident32) error
	QueueFrame(env frame.InMemoryEnvelope, manifested bool) error
	LoadPendingFor(seqHash id.Ident32) ([]frame.InMemoryEnvelope, error)
	PurgeSequence(seqHash id.Ident32) error
}

// Collector is the local-delivery contract the switch depends on.
// Implemented by collector.Collector.
type Collector interface {
	Enqueue(env frame.InMemoryEnvelope, recipient id.Recipient) error
}

// Switch is the central per-router classifier, tying the route table,
// journal, collector, and every registered Endpoint together, per
// spec.md §4.7.
type Switch struct {
	mu        sync.RWMutex
	endpoints map[route.EndpointID]endpoint.Endpoint

	table     *route.Table
	journal   Journal
	collector Collector

	pendMu     sync.Mutex
	pendByAddr map[id.Address][]id.Ident32 // seq hashes journaled while addr was unreachable
}

func New(table *route.Table, j Journal, c Collector) *Switch {
	return &Switch{
		endpoints:  make(map[route.EndpointID]endpoint.Endpoint),
		table:      table,
		journal:    j,
		collector:  c,
		pendByAddr: make(map[id.Address][]id.Ident32),
	}
}

func (sw *Switch) RegisterEndpoint(epID route.EndpointID, ep endpoint.Endpoint) {
	sw.mu.Lock()
	sw.endpoints[epID] = ep
	sw.mu.Unlock()
}

// RunReceiveLoop pulls frames off ep until ctx is cancelled, handing
// each one to Handle. One goroutine per registered endpoint.
func (sw *Switch) RunReceiveLoop(ctx context.Context, epID route.EndpointID, ep endpoint.Endpoint) {
	for {
		env, nb, err := ep.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if _, ok := err.(*endpoint.ErrNoData); ok {
				continue
			}
			nlog.Warningf("xswitch: endpoint %d read failed: %v", epID, err)
			continue
		}
		if err := sw.Handle(ctx, epID, nb, env); err != nil {
			nlog.Warningf("xswitch: handling frame from endpoint %d: %v", epID, err)
		}
	}
}

// Handle classifies one frame received from endpoint epID via
// neighbour nb and routes it to the collector, the route table, a
// remote endpoint, or the journal's pending queue, per spec.md §4.7.
func (sw *Switch) Handle(ctx context.Context, epID route.EndpointID, nb endpoint.NeighbourID, env frame.InMemoryEnvelope) error {
	fid := FrameID(env)
	if !sw.journal.IsUnknown(fid) {
		return nil // loop suppression: already processed
	}
	if err := sw.journal.SaveAsKnown(fid); err != nil {
		return err
	}

	recipient := env.Header.Recipient
	if recipient == nil || recipient.IsFlood() {
		return sw.handleFlood(ctx, epID, nb, env, recipient)
	}
	return sw.handleTargeted(ctx, env, *recipient)
}

func (sw *Switch) handleFlood(ctx context.Context, epID route.EndpointID, nb endpoint.NeighbourID, env frame.InMemoryEnvelope, recipient *id.Recipient) error {
	if frame.IsAnnounce(env.Header.Modes) {
		sw.handleAnnounce(epID, nb, env)
		sw.reflood(ctx, epID, nb, env) // announcements are never collected, but still propagate past this hop
		return nil
	}

	r := id.Broadcast()
	if recipient != nil {
		r = *recipient
	}
	if err := sw.collector.Enqueue(env, r); err != nil {
		nlog.Warningf("xswitch: collector enqueue failed: %v", err)
	}
	sw.reflood(ctx, epID, nb, env)
	return nil
}

func (sw *Switch) handleAnnounce(epID route.EndpointID, nb endpoint.NeighbourID, env frame.InMemoryEnvelope) {
	payload, err := DecodeAnnounce(env.PayloadSlice())
	if err != nil {
		nlog.Warningf("xswitch: malformed announce from %s: %v", env.Header.Sender, err)
		return
	}
	if !VerifyAnnounce(payload) {
		nlog.Warningf("xswitch: announce signature mismatch for %s", env.Header.Sender)
		return
	}
	sw.table.Upsert(env.Header.Sender, epID, nb, 1, 0)
}

// invalidEndpointID never matches a registered endpoint id, used by
// Flood to mean "no incoming edge to exclude".
const invalidEndpointID = route.EndpointID(0xFFFF)

// Flood originates a locally-sent message onto every neighbour of
// every registered endpoint (SEND/FLOOD, or an outgoing announcement).
// It marks the frame as known first so a copy that loops back through
// the mesh is suppressed at the next hop rather than re-flooded again.
func (sw *Switch) Flood(ctx context.Context, env frame.InMemoryEnvelope) error {
	if err := sw.journal.SaveAsKnown(FrameID(env)); err != nil {
		return err
	}
	sw.reflood(ctx, invalidEndpointID, 0, env)
	return nil
}

// reflood forwards env to every neighbour except the one it arrived
// on, per spec.md §4.7 ("Re-flood policy"). It does not wait for
// acknowledgement.
func (sw *Switch) reflood(ctx context.Context, from route.EndpointID, fromNb endpoint.NeighbourID, env frame.InMemoryEnvelope) {
	sw.mu.RLock()
	eps := make(map[route.EndpointID]endpoint.Endpoint, len(sw.endpoints))
	for k, v := range sw.endpoints {
		eps[k] = v
	}
	sw.mu.RUnlock()

	for epID, ep := range eps {
		for _, nb := range ep.Neighbours() {
			if epID == from && nb == fromNb {
				continue // exclude the incoming edge
			}
			if err := ep.Send(ctx, env, nb, nil); err != nil {
				if _, would := err.(*endpoint.ErrWouldBlock); would {
					continue // full out-buffer: skip this edge, per spec.md §4.7
				}
				nlog.Warningf("xswitch: reflood to endpoint %d neighbour %d failed: %v", epID, nb, err)
			}
		}
	}
}

// SendTargeted originates a locally-sent unicast or namespace-scoped
// frame, per spec.md §4.8 (SEND/ONE, SEND/MANY). Unlike Handle there is
// no incoming edge to check against the journal, but the frame is
// still marked known so a copy that loops back through the mesh is
// suppressed at the next hop.
func (sw *Switch) SendTargeted(ctx context.Context, env frame.InMemoryEnvelope, recipient id.Recipient) error {
	if err := sw.journal.SaveAsKnown(FrameID(env)); err != nil {
		return err
	}
	return sw.handleTargeted(ctx, env, recipient)
}

func (sw *Switch) handleTargeted(ctx context.Context, env frame.InMemoryEnvelope, recipient id.Recipient) error {
	addr := recipient.Address

	if sw.table.IsLocal(addr) {
		return sw.collector.Enqueue(env, recipient)
	}

	r := sw.table.Reachable(addr)
	switch {
	case r.Local:
		return sw.collector.Enqueue(env, recipient)
	case r.Remote:
		return sw.dispatchOne(ctx, r.Endpoint, r.Neighbour, env)
	default:
		return sw.journalPendingAndWait(addr, env)
	}
}

func (sw *Switch) dispatchOne(ctx context.Context, epID route.EndpointID, nb endpoint.NeighbourID, env frame.InMemoryEnvelope) error {
	sw.mu.RLock()
	ep, ok := sw.endpoints[epID]
	sw.mu.RUnlock()
	if !ok {
		return cos.NewErrNetmod(nil, "xswitch: no endpoint %d registered", epID)
	}
	return ep.Send(ctx, env, nb, nil)
}

// journalPendingAndWait journals env and registers addr as "wanted":
// once a route for addr appears, drainWanted dispatches every frame
// journaled while it was unreachable, in insertion order, per
// spec.md §4.7 ("Wanted-address drain").
func (sw *Switch) journalPendingAndWait(addr id.Address, env frame.InMemoryEnvelope) error {
	manifested := frame.HasMode(env.Header.Modes, frame.ModeManifest)
	if err := sw.journal.QueueFrame(env, manifested); err != nil {
		return err
	}

	seqHash := env.Header.SeqID.Hash
	sw.pendMu.Lock()
	already := false
	for _, h := range sw.pendByAddr[addr] {
		if h == seqHash {
			already = true
			break
		}
	}
	if !already {
		sw.pendByAddr[addr] = append(sw.pendByAddr[addr], seqHash)
	}
	sw.pendMu.Unlock()

	if !already {
		sw.table.WaitReachable(addr, func(r route.Reachability) {
			sw.drainWanted(addr, r)
		})
	}
	return nil
}

func (sw *Switch) drainWanted(addr id.Address, r route.Reachability) {
	sw.pendMu.Lock()
	seqHashes := sw.pendByAddr[addr]
	delete(sw.pendByAddr, addr)
	sw.pendMu.Unlock()

	ctx := context.Background()
	for _, seqHash := range seqHashes {
		frames, err := sw.journal.LoadPendingFor(seqHash)
		if err != nil {
			nlog.Warningf("xswitch: drain load for %s failed: %v", seqHash, err)
			continue
		}
		for _, env := range frames {
			var sendErr error
			if r.Local {
				sendErr = sw.collector.Enqueue(env, *env.Header.Recipient)
			} else {
				sendErr = sw.dispatchOne(ctx, r.Endpoint, r.Neighbour, env)
			}
			if sendErr != nil {
				nlog.Warningf("xswitch: drain dispatch for %s failed: %v", seqHash, sendErr)
				return // preserve remaining frames in the journal for the next attempt
			}
		}
		if err := sw.journal.PurgeSequence(seqHash); err != nil {
			nlog.Warningf("xswitch: drain purge for %s failed: %v", seqHash, err)
		}
	}
}
