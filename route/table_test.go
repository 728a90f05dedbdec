package route_test

import (
	"context"
	"testing"
	"time"

	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/route"
)

func TestUpsertAndReachable(t *testing.T) {
	tbl := route.New(time.Hour, nil)
	addr := id.RandomAddress()

	if r := tbl.Reachable(addr); r.Local || r.Remote {
		t.Fatalf("expected unknown address to be unreachable")
	}

	tbl.Upsert(addr, 1, 2, 3, 0.5)
	r := tbl.Reachable(addr)
	if !r.Remote || r.Endpoint != 1 || r.Neighbour != 2 {
		t.Fatalf("unexpected reachability: %+v", r)
	}
}

func TestUpsertPrefersLowerHopCount(t *testing.T) {
	tbl := route.New(time.Hour, nil)
	addr := id.RandomAddress()

	tbl.Upsert(addr, 1, 1, 5, 0)
	tbl.Upsert(addr, 2, 2, 2, 0)

	r := tbl.Reachable(addr)
	if r.Endpoint != 2 || r.Neighbour != 2 {
		t.Fatalf("expected lower hop-count route to win, got %+v", r)
	}
}

func TestLocalOverridesRemote(t *testing.T) {
	tbl := route.New(time.Hour, nil)
	addr := id.RandomAddress()
	tbl.Upsert(addr, 1, 1, 1, 0)
	tbl.AddLocal(addr)

	if r := tbl.Reachable(addr); !r.Local {
		t.Fatalf("expected local address to shadow remote entries")
	}
}

func TestWaitReachableFiresOnUpsert(t *testing.T) {
	tbl := route.New(time.Hour, nil)
	addr := id.RandomAddress()

	fired := make(chan route.Reachability, 1)
	tbl.WaitReachable(addr, func(r route.Reachability) { fired <- r })

	select {
	case <-fired:
		t.Fatalf("callback fired before route existed")
	default:
	}

	tbl.Upsert(addr, 1, 1, 1, 0)

	select {
	case r := <-fired:
		if !r.Remote {
			t.Fatalf("expected remote reachability, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("callback never fired")
	}
}

func TestExpiryRemovesStaleEntries(t *testing.T) {
	tbl := route.New(20*time.Millisecond, nil)
	addr := id.RandomAddress()
	tbl.Upsert(addr, 1, 1, 1, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	go tbl.RunExpiry(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for {
		if r := tbl.Reachable(addr); !r.Remote {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expired entry was never removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
