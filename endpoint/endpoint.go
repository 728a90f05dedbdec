// Package endpoint defines the uniform transport contract implemented by
// every driver (in-memory loopback, TCP peering, and future LoRa/LAN
// drivers), per spec.md §4.2.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package endpoint

import (
	"context"

	"github.com/irdest-go/ratman/frame"
)

// NeighbourID identifies one directly connected peer reachable over a
// given Endpoint.
type NeighbourID uint16

// Endpoint is the capability set every transport driver must implement.
// Send MAY block or apply backpressure but MUST NOT silently drop
// unless target is a flood and the link is unavailable. Next yields one
// whole carrier frame at a time; partial reads are hidden from the
// switch.
type Endpoint interface {
	// SizeHint reports a rough upper bound on a single frame's wire
	// size this endpoint can carry (used to size send buffers).
	SizeHint() int

	// Send transmits one frame. If excludeNeighbour is non-nil, a flood
	// send skips that neighbour (the edge the frame arrived on).
	Send(ctx context.Context, env frame.InMemoryEnvelope, target NeighbourID, excludeNeighbour *NeighbourID) error

	// Next blocks until one complete carrier frame is available and
	// returns it along with the neighbour it arrived from.
	Next(ctx context.Context) (frame.InMemoryEnvelope, NeighbourID, error)

	// Neighbours lists the currently reachable neighbour IDs on this
	// endpoint, used by the switch's re-flood policy.
	Neighbours() []NeighbourID
}

// ErrWouldBlock is returned by Send when a bounded queue is full; the
// caller (the switch) may journal the frame for retry instead of
// treating this as fatal, per spec.md §5 ("Backpressure").
type ErrWouldBlock struct{ Endpoint string }

func (e *ErrWouldBlock) Error() string { return "endpoint " + e.Endpoint + ": would block" }

// ErrNoData is a nonfatal condition returned by Next when no frame is
// currently available; callers retry, per spec.md §4.3 (reader retries
// NoData up to 128 times before treating the socket as dead).
type ErrNoData struct{ Endpoint string }

func (e *ErrNoData) Error() string { return "endpoint " + e.Endpoint + ": no data" }
