package ipc

import (
	"context"
	"encoding/binary"
	"net"
	"sync"

	"github.com/irdest-go/ratman/collector"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
	"github.com/irdest-go/ratman/internal/nlog"
)

// subFilter narrows a subscription to messages addressed to a specific
// target; a nil Target matches everything the collector delivers to
// this server (every locally owned address).
type subFilter struct {
	Target *id.Address
}

func decodeSubFilter(payload []byte) (subFilter, error) {
	if len(payload) == 0 {
		return subFilter{}, nil
	}
	a, ok := id.ParseAddress(payload)
	if !ok {
		return subFilter{}, cos.NewErrEncoding("sub filter: expected empty or a 32-byte address")
	}
	return subFilter{Target: &a}, nil
}

// subscription is one SUB/ADD registration: a dedicated socket the
// client connects to for stream delivery, per spec.md §4.8 ("Receive
// flow"). Messages that arrive before the client connects are queued
// and flushed once it does.
type subscription struct {
	id       id.Ident32
	clientID id.Ident32
	filter   subFilter

	ln net.Listener

	connMu sync.Mutex
	conn   net.Conn
	queue  [][]byte
}

func (sub *subscription) bind() string { return sub.ln.Addr().String() }

func (sub *subscription) matches(msg collector.Message) bool {
	if sub.filter.Target == nil {
		return true
	}
	return msg.Recipient.Kind == id.RecipientTarget && msg.Recipient.Address == *sub.filter.Target
}

func (sub *subscription) acceptLoop(ctx context.Context) {
	conn, err := sub.ln.Accept()
	if err != nil {
		return
	}
	sub.connMu.Lock()
	sub.conn = conn
	backlog := sub.queue
	sub.queue = nil
	sub.connMu.Unlock()

	for _, msg := range backlog {
		sub.writeOne(msg)
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
}

func (sub *subscription) writeOne(encoded []byte) {
	sub.connMu.Lock()
	conn := sub.conn
	if conn == nil {
		sub.queue = append(sub.queue, encoded)
		sub.connMu.Unlock()
		return
	}
	sub.connMu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(encoded)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return
	}
	conn.Write(encoded)
}

// subscriptionRegistry owns every live subscription and fans assembled
// collector messages out to the ones whose filter matches, per
// spec.md §4.8. It also tracks, per client, whether any message has
// been delivered since the last RECV/FETCH poll.
type subscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[id.Ident32]*subscription

	pendingMu sync.Mutex
	pending   map[id.Ident32]int
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		subs:    make(map[id.Ident32]*subscription),
		pending: make(map[id.Ident32]int),
	}
}

func (r *subscriptionRegistry) add(ctx context.Context, clientID id.Ident32, filter subFilter) (*subscription, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, cos.NewErrNetmod(err, "ipc: bind subscription socket")
	}
	sub := &subscription{id: id.RandomIdent32(), clientID: clientID, filter: filter, ln: ln}

	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()

	go sub.acceptLoop(ctx)
	return sub, nil
}

func (r *subscriptionRegistry) remove(subID id.Ident32) {
	r.mu.Lock()
	sub, ok := r.subs[subID]
	delete(r.subs, subID)
	r.mu.Unlock()
	if ok {
		sub.ln.Close()
	}
}

// runDispatch fans every assembled message out to every matching
// subscription. A message with no matching subscription is dropped: it
// is neither queued for a client that subscribes later nor announced
// with an Update ping.
func (r *subscriptionRegistry) runDispatch(out <-chan collector.Message) {
	for msg := range out {
		r.mu.RLock()
		var matched []*subscription
		for _, sub := range r.subs {
			if sub.matches(msg) {
				matched = append(matched, sub)
			}
		}
		r.mu.RUnlock()

		if len(matched) == 0 {
			nlog.Warningf("ipc: message for %s has no matching subscription, dropping", msg.Recipient)
			continue
		}
		encoded := encodeDeliveredMessage(msg)
		for _, sub := range matched {
			sub.writeOne(encoded)
			r.markPending(sub.clientID)
		}
	}
}

func (r *subscriptionRegistry) markPending(clientID id.Ident32) {
	r.pendingMu.Lock()
	r.pending[clientID]++
	r.pendingMu.Unlock()
}

func (r *subscriptionRegistry) hasPending(clientID id.Ident32) bool {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	n := r.pending[clientID]
	delete(r.pending, clientID)
	return n > 0
}

func encodeDeliveredMessage(msg collector.Message) []byte {
	buf := make([]byte, 0, id.Ident32Len+id.AddressLen+1+id.AddressLen+len(msg.Payload))
	buf = append(buf, msg.SeqHash[:]...)
	buf = append(buf, msg.Sender[:]...)
	buf = encodeRecipientTag(buf, msg.Recipient)
	buf = append(buf, msg.Payload...)
	return buf
}
