package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/irdest-go/ratman/netmod/tcp"
	"github.com/irdest-go/ratman/router"
)

// TestAnnouncePropagatesAcrossPeering wires up two routers, peers them
// over TCP, and checks that the dialer's local address reaches the
// listener's route table purely through the background announce loop.
func TestAnnouncePropagatesAcrossPeering(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := router.New(
		router.WithAnnouncePeriod(50*time.Millisecond),
		router.WithIPCBind("tcp", "127.0.0.1:0"),
	)

	listener, err := router.New2(cfg)
	if err != nil {
		t.Fatalf("new listener router: %v", err)
	}
	dialer, err := router.New2(cfg)
	if err != nil {
		t.Fatalf("new dialer router: %v", err)
	}

	if err := listener.ListenPeers(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("listen peers: %v", err)
	}

	go listener.Run(ctx)
	go dialer.Run(ctx)

	if err := dialer.DialPeer(ctx, listener.TCP.ListenAddr(), tcp.Standard); err != nil {
		t.Fatalf("dial peer: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !listener.Table.Known(dialer.SelfAddress()) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !listener.Table.Known(dialer.SelfAddress()) {
		t.Fatalf("listener never learned the dialer's address via announce")
	}
}
