package tcp

import (
	"context"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/irdest-go/ratman/endpoint"
	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
	"github.com/irdest-go/ratman/internal/nlog"
)

// Driver is the TCP peering netmod: the router's primary long-haul
// Endpoint, multiplexing an arbitrary number of peer sessions behind
// one endpoint.Endpoint, grounded on original_source/netmods/netmod-inet's
// Routes (a registry of Peer, keyed by Target id).
type Driver struct {
	selfAddr  id.Address
	selfKeyID id.Ident32

	mu       sync.RWMutex
	sessions map[endpoint.NeighbourID]*session
	nextID   uint32

	inbox    chan inbound
	metrics  *metricsTable
	listener net.Listener
}

// NewDriver constructs a TCP driver identified by selfAddr/selfKeyID
// (exchanged during the peering handshake) and registers its metrics
// against reg, which may be nil in tests.
func NewDriver(selfAddr id.Address, selfKeyID id.Ident32, reg prometheus.Registerer) *Driver {
	return &Driver{
		selfAddr:  selfAddr,
		selfKeyID: selfKeyID,
		sessions:  make(map[endpoint.NeighbourID]*session),
		inbox:     make(chan inbound, 64),
		metrics:   newMetricsTable(reg),
	}
}

func (d *Driver) SizeHint() int { return 64 << 10 }

func (d *Driver) Neighbours() []endpoint.NeighbourID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]endpoint.NeighbourID, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (d *Driver) Send(ctx context.Context, env frame.InMemoryEnvelope, target endpoint.NeighbourID, exclude *endpoint.NeighbourID) error {
	if exclude != nil && *exclude == target {
		return nil
	}
	d.mu.RLock()
	s, ok := d.sessions[target]
	d.mu.RUnlock()
	if !ok {
		return &endpoint.ErrWouldBlock{Endpoint: "tcp"}
	}
	return s.send(env)
}

func (d *Driver) Next(ctx context.Context) (frame.InMemoryEnvelope, endpoint.NeighbourID, error) {
	select {
	case in := <-d.inbox:
		return in.env, in.from, nil
	case <-ctx.Done():
		return frame.InMemoryEnvelope{}, 0, ctx.Err()
	}
}

var _ endpoint.Endpoint = (*Driver)(nil)

func (d *Driver) addSession(s *session) {
	d.mu.Lock()
	s.id = endpoint.NeighbourID(d.nextID)
	d.nextID++
	d.sessions[s.id] = s
	d.mu.Unlock()
}

func (d *Driver) removeSession(id endpoint.NeighbourID) {
	d.mu.Lock()
	s, ok := d.sessions[id]
	delete(d.sessions, id)
	d.mu.Unlock()
	if ok {
		d.metrics.remove(s.addr)
	}
}

// Dial establishes an outbound peering session to addr with the given
// PeerType, retrying per dial's backoff policy, then performs the
// handshake and starts the session's read loop. It returns once the
// session is RUNNING; reconnection on later failure happens
// automatically in the background.
func (d *Driver) Dial(ctx context.Context, addr string, peerType PeerType) error {
	conn, err := dial(ctx, addr, peerType)
	if err != nil {
		return err
	}
	peerKey, err := d.handshakeOutbound(conn, peerType)
	if err != nil {
		conn.Close()
		return err
	}
	s := newSession(0, conn, peerType, peerKey, true, d.metrics)
	d.addSession(s)
	go func() {
		s.run(ctx, d.inbox)
		d.removeSession(s.id)
		if peerType != Standard && peerType != Cross {
			return
		}
		nlog.Infof("tcp: session to %s dropped, reconnecting", addr)
		if err := d.Dial(ctx, addr, peerType); err != nil {
			nlog.Errorf("tcp: reconnect to %s abandoned: %v", addr, err)
		}
	}()
	return nil
}

// Listen accepts inbound peering connections on addr until ctx is
// cancelled, handshaking each one as the reciprocal side of Dial.
func (d *Driver) Listen(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return cos.NewErrNetmod(err, "listen on %s", addr)
	}
	d.listener = ln
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				nlog.Errorf("tcp: accept failed: %v", err)
				continue
			}
			go d.acceptOne(ctx, conn)
		}
	}()
	return nil
}

// ListenAddr returns the address Listen actually bound to, which is
// useful when the configured address used an ephemeral port.
func (d *Driver) ListenAddr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

func (d *Driver) acceptOne(ctx context.Context, conn net.Conn) {
	peerType, peerKey, err := d.handshakeInbound(conn)
	if err != nil {
		nlog.Warningf("tcp: handshake from %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	s := newSession(0, conn, peerType, peerKey, false, d.metrics)
	d.addSession(s)
	s.run(ctx, d.inbox)
	d.removeSession(s.id)
}
