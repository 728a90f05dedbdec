package endpoint

import (
	"context"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/internal/cos"
)

// MemEndpoint is an in-memory loopback endpoint, useful for tests and
// for any structure that binds against Endpoint without a real
// transport. Two MemEndpoints are linked via MakeMemPair, adapted from
// the teacher-adjacent netmod-mem driver in original_source/.
type MemEndpoint struct {
	out     chan frame.InMemoryEnvelope
	in      chan frame.InMemoryEnvelope
	linked  bool
	closeCh chan struct{}
}

// MakeMemPair creates two already-paired MemEndpoints, ready for use.
func MakeMemPair() (a, b *MemEndpoint) {
	atob := make(chan frame.InMemoryEnvelope, 1)
	btoa := make(chan frame.InMemoryEnvelope, 1)
	a = &MemEndpoint{out: atob, in: btoa, linked: true, closeCh: make(chan struct{})}
	b = &MemEndpoint{out: btoa, in: atob, linked: true, closeCh: make(chan struct{})}
	return a, b
}

func (m *MemEndpoint) SizeHint() int { return 1 << 20 }

func (m *MemEndpoint) Neighbours() []NeighbourID {
	if !m.linked {
		return nil
	}
	return []NeighbourID{0}
}

func (m *MemEndpoint) Send(ctx context.Context, env frame.InMemoryEnvelope, _ NeighbourID, exclude *NeighbourID) error {
	if !m.linked {
		return cos.NewErrNetmod(nil, "mem endpoint not linked")
	}
	if exclude != nil {
		// the only neighbour on a mem endpoint is the one the frame
		// arrived from; excluding it means dropping the re-flood here.
		return nil
	}
	select {
	case m.out <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return &ErrWouldBlock{Endpoint: "mem"}
	}
}

func (m *MemEndpoint) Next(ctx context.Context) (frame.InMemoryEnvelope, NeighbourID, error) {
	if !m.linked {
		return frame.InMemoryEnvelope{}, 0, cos.NewErrNetmod(nil, "mem endpoint not linked")
	}
	select {
	case env := <-m.in:
		return env, 0, nil
	case <-ctx.Done():
		return frame.InMemoryEnvelope{}, 0, ctx.Err()
	case <-m.closeCh:
		return frame.InMemoryEnvelope{}, 0, cos.NewErrNetmod(nil, "mem endpoint closed")
	}
}

// Split unlinks this endpoint: its later sends and receives fail, and a
// Next blocked on it returns. The paired endpoint is not notified: its
// sends still queue on the shared channel and its Next blocks until its
// context ends.
func (m *MemEndpoint) Split() {
	m.linked = false
	close(m.closeCh)
}
