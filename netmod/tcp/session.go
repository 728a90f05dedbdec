package tcp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irdest-go/ratman/endpoint"
	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
	"github.com/irdest-go/ratman/internal/nlog"
)

// sessionState tracks one peering connection's lifecycle, per the
// INIT -> CONNECTING -> HANDSHAKE -> RUNNING -> {DRAINING -> CLOSED,
// RECONNECTING -> CONNECTING} state machine.
type sessionState int32

const (
	stateInit sessionState = iota
	stateConnecting
	stateHandshake
	stateRunning
	stateDraining
	stateClosed
	stateReconnecting
)

// sessionGiveUp bounds how many dial attempts a Cross session makes
// before it is abandoned for good, mirroring SESSION_TIMEOUT.
const sessionGiveUp = 6

// backoff bounds, doubling from minBackoff up to maxBackoff between
// Standard dial attempts once sessionGiveUp has been exceeded.
const (
	minBackoff = 2 * time.Second
	maxBackoff = 4096 * time.Second
)

// session represents one TCP peering connection, analogous to the
// Rust Peer: a single conn guarded by a write mutex for sends, with a
// dedicated read loop feeding the driver's inbox.
type session struct {
	id       endpoint.NeighbourID
	addr     string
	peerType PeerType
	peerKey  id.Ident32
	outbound bool // true if we dialled; false if this arrived via Listen

	conn    net.Conn
	writeMu sync.Mutex
	state   atomic.Int32

	metrics *metricsTable
}

func newSession(id endpoint.NeighbourID, conn net.Conn, peerType PeerType, peerKey id.Ident32, outbound bool, metrics *metricsTable) *session {
	s := &session{
		id:       id,
		addr:     conn.RemoteAddr().String(),
		peerType: peerType,
		peerKey:  peerKey,
		outbound: outbound,
		conn:     conn,
		metrics:  metrics,
	}
	s.state.Store(int32(stateRunning))
	return s
}

func (s *session) send(env frame.InMemoryEnvelope) error {
	if sessionState(s.state.Load()) != stateRunning {
		return cos.NewErrNetmod(nil, "session %s is not running", s.addr)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := writeEnvelope(s.conn, env)
	if err != nil {
		return err
	}
	s.metrics.appendWrite(s.addr, n)
	return nil
}

// run repeatedly reads whole envelopes off the connection and forwards
// them to out, retrying transient no-data conditions up to 128 times
// before declaring the connection dead, matching Peer::run's
// no_data_ctr policy.
func (s *session) run(ctx context.Context, out chan<- inbound) {
	noData := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		env, err := readEnvelope(s.conn)
		if err != nil {
			noData++
			if noData > 128 {
				nlog.Warningf("tcp: peer %s exceeded no-data retries, closing", s.addr)
				s.close()
				return
			}
			continue
		}
		noData = 0
		s.metrics.appendRead(s.addr, len(env.Buffer))

		select {
		case out <- inbound{env: env, from: s.id}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) close() {
	if sessionState(s.state.Swap(int32(stateClosed))) == stateClosed {
		return
	}
	s.conn.Close()
}

type inbound struct {
	env  frame.InMemoryEnvelope
	from endpoint.NeighbourID
}

// dial attempts a connection to addr, retrying with backoff per
// PeerType: Cross gives up after sessionGiveUp attempts, Standard
// backs off exponentially forever, Limited is rejected outright.
func dial(ctx context.Context, addr string, peerType PeerType) (net.Conn, error) {
	if peerType == Limited {
		return nil, cos.NewErrNetmod(nil, "limited peer type is not implemented")
	}

	holdoff := minBackoff
	var d net.Dialer
	for attempt := 0; ; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		nlog.Warningf("tcp: dial %s failed (attempt %d): %v", addr, attempt, err)

		if peerType == Cross && attempt+1 >= sessionGiveUp {
			return nil, cos.NewErrNetmod(err, "connection to %s refused after %d tries", addr, attempt+1)
		}

		select {
		case <-time.After(holdoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if attempt >= sessionGiveUp && holdoff < maxBackoff {
			holdoff *= 2
		}
	}
}
