package collector_test

import (
	"context"
	"testing"
	"time"

	"github.com/irdest-go/ratman/collector"
	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/journal"
)

func newTestJournal(t *testing.T) *journal.Store {
	t.Helper()
	s, err := journal.OpenMemory(journal.DefaultConfig())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAssemblesOutOfOrderFrames(t *testing.T) {
	j := newTestJournal(t)
	out := make(chan collector.Message, 1)
	c := collector.New(j, out, time.Minute, time.Hour)

	sender := id.RandomAddress()
	recipient := id.Target(id.RandomAddress())
	seqHash := id.RandomIdent32()

	parts := [][]byte{{1, 3}, {1, 2}, {9, 9}}
	order := []uint32{2, 0, 1}
	for _, num := range order {
		seq := id.SequenceId{Hash: seqHash, Num: num, Max: 2}
		env := frame.NewEnvelope(frame.NewDataHeader(sender, recipient, seq, uint16(len(parts[num]))), parts[num])
		if err := c.Enqueue(env, recipient); err != nil {
			t.Fatalf("enqueue %d: %v", num, err)
		}
	}

	select {
	case msg := <-out:
		want := []byte{1, 3, 1, 2, 9, 9}
		if string(msg.Payload) != string(want) {
			t.Fatalf("payload mismatch: got %v want %v", msg.Payload, want)
		}
		if msg.Sender != sender {
			t.Fatalf("sender mismatch")
		}
	case <-time.After(time.Second):
		t.Fatalf("message never assembled")
	}
}

func TestDuplicateFramesDiscarded(t *testing.T) {
	j := newTestJournal(t)
	out := make(chan collector.Message, 1)
	c := collector.New(j, out, time.Minute, time.Hour)

	sender := id.RandomAddress()
	recipient := id.Target(id.RandomAddress())
	seqHash := id.RandomIdent32()

	seq0 := id.SequenceId{Hash: seqHash, Num: 0, Max: 1}
	env0 := frame.NewEnvelope(frame.NewDataHeader(sender, recipient, seq0, 1), []byte{1})

	if err := c.Enqueue(env0, recipient); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := c.Enqueue(env0, recipient); err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}

	seq1 := id.SequenceId{Hash: seqHash, Num: 1, Max: 1}
	env1 := frame.NewEnvelope(frame.NewDataHeader(sender, recipient, seq1, 1), []byte{2})
	if err := c.Enqueue(env1, recipient); err != nil {
		t.Fatalf("enqueue final: %v", err)
	}

	select {
	case msg := <-out:
		if string(msg.Payload) != string([]byte{1, 2}) {
			t.Fatalf("expected one copy of the duplicate frame, got %v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("message never assembled")
	}
}

func TestEvictionJournalsPartialBuffer(t *testing.T) {
	j := newTestJournal(t)
	out := make(chan collector.Message, 1)
	c := collector.New(j, out, 10*time.Millisecond, time.Hour)

	sender := id.RandomAddress()
	recipient := id.Target(id.RandomAddress())
	seqHash := id.RandomIdent32()
	seq0 := id.SequenceId{Hash: seqHash, Num: 0, Max: 2}
	env0 := frame.NewEnvelope(frame.NewDataHeader(sender, recipient, seq0, 1), []byte{5})
	if err := c.Enqueue(env0, recipient); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go c.RunEvictionLoop(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for {
		loaded, err := j.LoadPendingFor(seqHash)
		if err != nil {
			t.Fatalf("load pending: %v", err)
		}
		if len(loaded) == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("evicted worker's partial frame was never journaled")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
