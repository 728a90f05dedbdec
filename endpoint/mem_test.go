package endpoint_test

import (
	"context"
	"testing"
	"time"

	"github.com/irdest-go/ratman/endpoint"
	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
)

func TestMemEndpointRoundtrip(t *testing.T) {
	a, b := endpoint.MakeMemPair()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	sender := id.RandomAddress()
	h := frame.NewAnnounceHeader(sender, 3)
	env := frame.NewEnvelope(h, []byte{1, 2, 3})

	if err := a.Send(ctx, env, 0, nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, from, err := b.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if from != 0 {
		t.Fatalf("unexpected neighbour id: %v", from)
	}
	if got.Header.Sender != sender {
		t.Fatalf("sender mismatch")
	}
}

func TestMemEndpointSplitRejectsTraffic(t *testing.T) {
	a, b := endpoint.MakeMemPair()
	a.Split()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	env := frame.NewEnvelope(frame.NewAnnounceHeader(id.RandomAddress(), 0), nil)
	if err := a.Send(ctx, env, 0, nil); err == nil {
		t.Fatalf("expected error sending on split endpoint")
	}
	if _, _, err := b.Next(ctx); err == nil {
		t.Fatalf("expected error receiving on peer of split endpoint")
	}
}

func TestMemEndpointExcludeDropsFlood(t *testing.T) {
	a, b := endpoint.MakeMemPair()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	excl := endpoint.NeighbourID(0)
	env := frame.NewEnvelope(frame.NewAnnounceHeader(id.RandomAddress(), 0), nil)
	if err := a.Send(ctx, env, 0, &excl); err != nil {
		t.Fatalf("excluded send should not error: %v", err)
	}
	if _, _, err := b.Next(ctx); err == nil {
		t.Fatalf("expected no frame delivered when excluded")
	}
}
