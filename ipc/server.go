package ipc

import (
	"context"
	"net"
	"time"

	"github.com/irdest-go/ratman/collector"
	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
	"github.com/irdest-go/ratman/internal/nlog"
	"github.com/irdest-go/ratman/journal"
	"github.com/irdest-go/ratman/route"
	"github.com/irdest-go/ratman/xswitch"
)

// Config bounds the IPC server's per-request and handshake timeouts,
// per spec.md §5 ("Timeout defaults: client request 30s ... handshake
// 10s").
type Config struct {
	RequestTimeout   time.Duration
	HandshakeTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{RequestTimeout: 30 * time.Second, HandshakeTimeout: 10 * time.Second}
}

// Server is the local IPC microframe server (C8): the client-facing
// surface wired to the route table, journal, switch, and collector
// built by the rest of the router, per spec.md §4.8.
type Server struct {
	cfg Config

	table   *route.Table
	journal *journal.Store
	sw      *xswitch.Switch
	auth    *AuthManager
	addrs   *AddressBook
	subs    *subscriptionRegistry

	uploadCtx context.Context
	listener  net.Listener
}

// NewServer wires a Server against the already-constructed router
// components. signingKey authenticates the JWT sessions AuthManager
// issues; it should be stable across restarts of the same router
// instance. out is the collector's delivery channel.
func NewServer(cfg Config, table *route.Table, j *journal.Store, sw *xswitch.Switch, out <-chan collector.Message, signingKey []byte) *Server {
	subs := newSubscriptionRegistry()
	go subs.runDispatch(out)
	return &Server{
		cfg:     cfg,
		table:   table,
		journal: j,
		sw:      sw,
		auth:    NewAuthManager(signingKey),
		addrs:   newAddressBook(table),
		subs:    subs,
	}
}

// Listen accepts client connections on network/addr ("tcp",
// "127.0.0.1:9020" or "unix", "/path/to/sock") until ctx is cancelled,
// per spec.md §6 ("default UNIX socket or TCP bind localhost:9020").
func (s *Server) Listen(ctx context.Context, network, addr string) error {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return cos.NewErrNetmod(err, "ipc: listen on %s %s", network, addr)
	}
	s.listener = ln
	s.uploadCtx = ctx

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
				nlog.Errorf("ipc: accept failed: %v", err)
				continue
			}
			go s.handleConn(ctx, conn)
		}
	}()
	return nil
}

func (s *Server) ListenAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleConn drives one client connection through the greeting,
// authenticate, and steady-state phases of spec.md §4.8.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	sid := cos.ShortID()

	if err := s.greet(conn); err != nil {
		nlog.Warningf("ipc[%s]: greeting failed: %v", sid, err)
		return
	}

	auth, err := s.authenticate(conn)
	if err != nil {
		nlog.Warningf("ipc[%s]: authentication failed: %v", sid, err)
		return
	}
	nlog.Infof("ipc[%s]: client %s authenticated", sid, auth.ClientID)
	defer s.auth.Forget(auth.ClientID)

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.RequestTimeout))
		h, payload, err := readMicroframe(conn)
		if err != nil {
			return
		}
		if err := frame.ValidateClientMode(h.Modes); err != nil {
			writeMicroframe(conn, frame.IntrinsicHeader(&auth), PingError("invalid-mode", "%v", err).Encode())
			continue
		}
		if h.Auth == nil || *h.Auth != auth {
			writeMicroframe(conn, frame.IntrinsicHeader(&auth), PingError("bad-auth", "stale or missing client_auth").Encode())
			continue
		}
		if err := s.auth.Verify(h.Auth); err != nil {
			writeMicroframe(conn, frame.IntrinsicHeader(nil), PingError("expired-auth", "%v", err).Encode())
			return
		}

		resp := s.dispatch(ctx, h, payload, auth)
		if err := writeMicroframe(conn, frame.IntrinsicHeader(&auth), resp.Encode()); err != nil {
			return
		}
	}
}

func (s *Server) greet(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := writeMicroframe(conn, frame.IntrinsicHeader(nil), Handshake{Version: ProtocolVersion}.Encode()); err != nil {
		return err
	}
	_, payload, err := readMicroframe(conn)
	if err != nil {
		return err
	}
	hs, err := DecodeHandshake(payload)
	if err != nil {
		return err
	}
	if hs.Version != ProtocolVersion {
		writeMicroframe(conn, frame.IntrinsicHeader(nil), PingIncompatibleVersion().Encode())
		return cos.NewErrClient("incompatible-version", "client requested version %d, have %d", hs.Version, ProtocolVersion)
	}
	return nil
}

func (s *Server) authenticate(conn net.Conn) (id.ClientAuth, error) {
	conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	h, _, err := readMicroframe(conn)
	if err != nil {
		return id.ClientAuth{}, err
	}
	ns, op := frame.SplitClientMode(h.Modes)
	if ns != frame.NsIntrinsic || op != frame.OpSystem {
		return id.ClientAuth{}, cos.NewErrClient("bad-auth", "expected intrinsic auth request, got mode 0x%04x", h.Modes)
	}

	if h.Auth != nil && s.auth.Verify(h.Auth) == nil {
		if err := writeMicroframe(conn, frame.IntrinsicHeader(h.Auth), PingOk().Encode()); err != nil {
			return id.ClientAuth{}, err
		}
		return *h.Auth, nil
	}

	auth, err := s.auth.Register()
	if err != nil {
		writeMicroframe(conn, frame.IntrinsicHeader(nil), PingError("auth-sign", "%v", err).Encode())
		return id.ClientAuth{}, err
	}
	if err := writeMicroframe(conn, frame.IntrinsicHeader(&auth), PingOk().Encode()); err != nil {
		return id.ClientAuth{}, err
	}
	return auth, nil
}

func (s *Server) dispatch(ctx context.Context, h frame.MicroframeHeader, payload []byte, auth id.ClientAuth) ServerPing {
	ns, op := frame.SplitClientMode(h.Modes)
	switch ns {
	case frame.NsAddr:
		return s.handleAddr(op, payload)
	case frame.NsPeer:
		return s.handlePeer(op, payload)
	case frame.NsLink:
		return s.handleLink(op)
	case frame.NsSend:
		return s.handleSend(ctx, op, payload)
	case frame.NsRecv:
		return s.handleRecv(op, auth.ClientID)
	case frame.NsSub:
		return s.handleSub(ctx, op, payload, auth.ClientID)
	case frame.NsStatus:
		return s.handleStatus(op)
	default:
		return PingError("invalid-mode", "namespace 0x%x has no steady-state handler", ns)
	}
}
