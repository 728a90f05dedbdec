package tcp_test

import (
	"context"
	"testing"
	"time"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/netmod/tcp"
)

func TestDialListenHandshakeAndRoundtrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverKey := id.RandomIdent32()
	server := tcp.NewDriver(id.RandomAddress(), serverKey, nil)
	if err := server.Listen(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}

	clientKey := id.RandomIdent32()
	client := tcp.NewDriver(id.RandomAddress(), clientKey, nil)

	addr := server.ListenAddr()
	if err := client.Dial(ctx, addr, tcp.Standard); err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(client.Neighbours()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(client.Neighbours()) == 0 {
		t.Fatalf("client never registered a session")
	}

	sender := id.RandomAddress()
	env := frame.NewEnvelope(frame.NewAnnounceHeader(sender, 2), []byte{9, 9})
	if err := client.Send(ctx, env, client.Neighbours()[0], nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	got, _, err := server.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got.Header.Sender != sender {
		t.Fatalf("sender mismatch: got %s want %s", got.Header.Sender, sender)
	}
}
