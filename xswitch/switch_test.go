package xswitch_test

import (
	"context"
	"testing"
	"time"

	"github.com/irdest-go/ratman/collector"
	"github.com/irdest-go/ratman/endpoint"
	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/journal"
	"github.com/irdest-go/ratman/route"
	"github.com/irdest-go/ratman/xswitch"
)

type harness struct {
	table     *route.Table
	journal   *journal.Store
	out       chan collector.Message
	collector *collector.Collector
	sw        *xswitch.Switch
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	j, err := journal.OpenMemory(journal.DefaultConfig())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	tbl := route.New(time.Hour, j)
	out := make(chan collector.Message, 8)
	coll := collector.New(j, out, time.Minute, time.Hour)
	sw := xswitch.New(tbl, j, coll)
	return &harness{table: tbl, journal: j, out: out, collector: coll, sw: sw}
}

func TestHandleAnnounceUpdatesRouteTable(t *testing.T) {
	h := newHarness(t)
	sender := id.RandomAddress()
	payload := xswitch.EncodeAnnounce(xswitch.AnnouncePayload{Address: sender, IssuedAt: time.Now(), TTL: time.Minute})
	env := frame.NewEnvelope(frame.NewAnnounceHeader(sender, uint16(len(payload))), payload)

	if err := h.sw.Handle(context.Background(), 0, 0, env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !h.table.Known(sender) {
		t.Fatalf("expected route table to learn the announced address")
	}
}

func TestHandleTargetedLocalDelivery(t *testing.T) {
	h := newHarness(t)
	local := id.RandomAddress()
	h.table.AddLocal(local)

	sender := id.RandomAddress()
	seq := id.SequenceId{Hash: id.RandomIdent32(), Num: 0, Max: 0}
	env := frame.NewEnvelope(frame.NewDataHeader(sender, id.Target(local), seq, 3), []byte{1, 2, 3})

	if err := h.sw.Handle(context.Background(), 0, 0, env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	select {
	case msg := <-h.out:
		if string(msg.Payload) != string([]byte{1, 2, 3}) {
			t.Fatalf("unexpected payload: %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("message never delivered to collector")
	}
}

func TestDuplicateFrameIsSuppressed(t *testing.T) {
	h := newHarness(t)
	local := id.RandomAddress()
	h.table.AddLocal(local)

	sender := id.RandomAddress()
	seq := id.SequenceId{Hash: id.RandomIdent32(), Num: 0, Max: 0}
	env := frame.NewEnvelope(frame.NewDataHeader(sender, id.Target(local), seq, 1), []byte{9})

	if err := h.sw.Handle(context.Background(), 0, 0, env); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	<-h.out

	if err := h.sw.Handle(context.Background(), 0, 0, env); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	select {
	case msg := <-h.out:
		t.Fatalf("duplicate frame should have been suppressed, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTargetedUnreachableIsJournaledThenDrained(t *testing.T) {
	h := newHarness(t)
	target := id.RandomAddress()
	sender := id.RandomAddress()
	seq := id.SequenceId{Hash: id.RandomIdent32(), Num: 0, Max: 0}
	env := frame.NewEnvelope(frame.NewDataHeader(sender, id.Target(target), seq, 2), []byte{4, 4})

	if err := h.sw.Handle(context.Background(), 0, 0, env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	loaded, err := h.journal.LoadPendingFor(seq.Hash)
	if err != nil || len(loaded) != 1 {
		t.Fatalf("expected frame journaled pending target's route, got %d err %v", len(loaded), err)
	}

	// target becomes reachable (treated as local, for simplicity)
	h.table.AddLocal(target)
	h.table.Upsert(target, 5, 5, 1, 0) // triggers WaitReachable callbacks

	select {
	case msg := <-h.out:
		if string(msg.Payload) != string([]byte{4, 4}) {
			t.Fatalf("unexpected drained payload: %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("pending frame was never drained once route appeared")
	}

	remaining, _ := h.journal.LoadPendingFor(seq.Hash)
	if len(remaining) != 0 {
		t.Fatalf("expected drained frame to be purged, got %d remaining", len(remaining))
	}
}

// TestTriangleRefloodSuppression floods from R1 into a three-node
// triangle and checks that R2 and R3 each deliver the message exactly
// once: each refloods it only to the other (never back to R1), and the
// copy that arrives over the R2-R3 edge is dropped as already known.
func TestTriangleRefloodSuppression(t *testing.T) {
	ab1, ab2 := endpoint.MakeMemPair() // R1 <-> R2
	ac1, ac2 := endpoint.MakeMemPair() // R1 <-> R3
	bc1, bc2 := endpoint.MakeMemPair() // R2 <-> R3

	r1 := newHarness(t)
	r2 := newHarness(t)
	r3 := newHarness(t)

	r1.sw.RegisterEndpoint(0, ab1)
	r1.sw.RegisterEndpoint(1, ac1)
	r2.sw.RegisterEndpoint(0, ab2)
	r2.sw.RegisterEndpoint(1, bc1)
	r3.sw.RegisterEndpoint(0, ac2)
	r3.sw.RegisterEndpoint(1, bc2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go r1.sw.RunReceiveLoop(ctx, 0, ab1)
	go r1.sw.RunReceiveLoop(ctx, 1, ac1)
	go r2.sw.RunReceiveLoop(ctx, 0, ab2)
	go r2.sw.RunReceiveLoop(ctx, 1, bc1)
	go r3.sw.RunReceiveLoop(ctx, 0, ac2)
	go r3.sw.RunReceiveLoop(ctx, 1, bc2)

	recipient := id.Broadcast()
	seq := id.SequenceId{Hash: id.RandomIdent32(), Num: 0, Max: 0}
	sender := id.RandomAddress()
	env := frame.NewEnvelope(frame.NewDataHeader(sender, recipient, seq, 1), []byte{7})

	if err := r1.sw.Flood(ctx, env); err != nil {
		t.Fatalf("flood: %v", err)
	}

	gotR2, gotR3 := false, false
	deadline := time.After(time.Second)
	for !gotR2 || !gotR3 {
		select {
		case <-r2.out:
			gotR2 = true
		case <-r3.out:
			gotR3 = true
		case <-deadline:
			t.Fatalf("flood did not reach both other nodes: r2=%v r3=%v", gotR2, gotR3)
		}
	}

	// Give any erroneous re-flood (R2->R3 or R3->R2) time to arrive; none
	// should, since both already marked the frame as known on first
	// receipt from R1.
	select {
	case <-r2.out:
		t.Fatalf("R2 received the flood a second time (echo from R3)")
	case <-r3.out:
		t.Fatalf("R3 received the flood a second time (echo from R2)")
	case <-time.After(300 * time.Millisecond):
	}
}

// TestChainAnnouncePropagatesMultiHop exercises distance-vector learning
// across a three-node chain R1 <-> R2 <-> R3 with no direct R1-R3 link.
// An announcement from R1 must reflood past R2 so R3 (two hops away)
// learns R1's address, per spec.md §1/§2's stated multi-hop purpose and
// §4.7's announce-then-reflood classification.
func TestChainAnnouncePropagatesMultiHop(t *testing.T) {
	ab1, ab2 := endpoint.MakeMemPair() // R1 <-> R2
	bc1, bc2 := endpoint.MakeMemPair() // R2 <-> R3

	r1 := newHarness(t)
	r2 := newHarness(t)
	r3 := newHarness(t)

	r1.sw.RegisterEndpoint(0, ab1)
	r2.sw.RegisterEndpoint(0, ab2)
	r2.sw.RegisterEndpoint(1, bc1)
	r3.sw.RegisterEndpoint(0, bc2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go r1.sw.RunReceiveLoop(ctx, 0, ab1)
	go r2.sw.RunReceiveLoop(ctx, 0, ab2)
	go r2.sw.RunReceiveLoop(ctx, 1, bc1)
	go r3.sw.RunReceiveLoop(ctx, 0, bc2)

	r1Addr := id.RandomAddress()
	payload := xswitch.EncodeAnnounce(xswitch.AnnouncePayload{Address: r1Addr, IssuedAt: time.Now(), TTL: time.Minute})
	env := frame.NewEnvelope(frame.NewAnnounceHeader(r1Addr, uint16(len(payload))), payload)

	if err := r1.sw.Flood(ctx, env); err != nil {
		t.Fatalf("flood: %v", err)
	}

	deadline := time.After(time.Second)
	for !r3.table.Known(r1Addr) {
		select {
		case <-deadline:
			t.Fatalf("R3 never learned R1's address across the R1-R2-R3 chain")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if !r2.table.Known(r1Addr) {
		t.Fatalf("R2 (direct neighbour) should also have learned R1's address")
	}
}
