package router

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/irdest-go/ratman/collector"
	"github.com/irdest-go/ratman/endpoint"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
	"github.com/irdest-go/ratman/internal/nlog"
	"github.com/irdest-go/ratman/ipc"
	"github.com/irdest-go/ratman/journal"
	"github.com/irdest-go/ratman/netmod/tcp"
	"github.com/irdest-go/ratman/route"
	"github.com/irdest-go/ratman/xswitch"
)

// tcpEndpointID is the EndpointID this router registers its TCP
// peering driver under. A router with more than one netmod would
// allocate these sequentially; this module carries exactly one.
const tcpEndpointID route.EndpointID = 0

// Router is one running instance: the wiring of every component built
// across C1-C8, plus the background loops (announce, GC, route expiry,
// eviction) that keep it live, per spec.md §5.
type Router struct {
	cfg Config

	selfAddr  id.Address
	selfKeyID id.Ident32
	signKey   ed25519.PrivateKey

	Journal *journal.Store
	Table   *route.Table
	Switch  *xswitch.Switch
	TCP     *tcp.Driver
	IPC     *ipc.Server

	coll     *collector.Collector
	registry *prometheus.Registry
}

// New2 constructs a Router and everything it owns from cfg (built with
// New), but starts nothing; call Run to bring it up. Each Router gets
// its own unshared metrics registry so metrics don't collide across
// test instances.
func New2(cfg Config) (*Router, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, cos.NewErrFatal("router: generate identity key: %v", err)
	}
	selfAddr := id.AddressFromPublicKey(pub)
	selfKeyID := id.RandomIdent32()

	reg := prometheus.NewRegistry()

	path := cfg.StateDir
	var j *journal.Store
	if path == "" {
		j, err = journal.OpenMemory(cfg.Journal)
	} else {
		j, err = journal.Open(path, cfg.Journal)
	}
	if err != nil {
		return nil, err
	}

	tbl := route.New(cfg.AnnounceTTL, j)
	if err := tbl.Seed(); err != nil {
		nlog.Warningf("router: route seed incomplete: %v", err)
	}
	tbl.AddLocal(selfAddr)

	out := make(chan collector.Message, 64)
	coll := collector.New(j, out, cfg.AssemblyTTL, cfg.Journal.DelayToleranceTTL)

	sw := xswitch.New(tbl, j, coll)

	drv := tcp.NewDriver(selfAddr, selfKeyID, reg)
	sw.RegisterEndpoint(tcpEndpointID, drv)

	signingKey := cfg.SigningKey
	if len(signingKey) == 0 {
		signingKey = priv.Seed()
	}
	srv := ipc.NewServer(cfg.IPC, tbl, j, sw, out, signingKey)

	return &Router{
		cfg:       cfg,
		selfAddr:  selfAddr,
		selfKeyID: selfKeyID,
		signKey:   priv,
		Journal:   j,
		Table:     tbl,
		Switch:    sw,
		TCP:       drv,
		IPC:       srv,
		coll:      coll,
		registry:  reg,
	}, nil
}

// SelfAddress is the router's own mesh address, used to originate
// announcements and as the default sender for locally-created identities.
func (r *Router) SelfAddress() id.Address { return r.selfAddr }

// ListenPeers binds the TCP peering driver, per spec.md §6.
func (r *Router) ListenPeers(ctx context.Context, addr string) error {
	return r.TCP.Listen(ctx, addr)
}

// DialPeer connects out to a known peer, per spec.md §4.3.
func (r *Router) DialPeer(ctx context.Context, addr string, peerType tcp.PeerType) error {
	return r.TCP.Dial(ctx, addr, peerType)
}

// Run brings every background loop up under one errgroup, and blocks
// until ctx is cancelled or a loop fails irrecoverably. On shutdown the
// shared context stops every loop at once (the IPC listener closes with
// it), and the journal is closed last, after every loop has returned.
// Peer sessions are not flushed and unfinished collector assemblies are
// not journaled as part of shutdown.
func (r *Router) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.Switch.RunReceiveLoop(gctx, tcpEndpointID, r.TCP)
		return nil
	})
	g.Go(func() error {
		r.Table.RunExpiry(gctx, r.cfg.AnnounceTTL/3)
		return nil
	})
	g.Go(func() error {
		r.Journal.RunGCLoop(gctx)
		return nil
	})
	g.Go(func() error {
		r.coll.RunEvictionLoop(gctx, r.cfg.AssemblyTTL/3)
		return nil
	})
	g.Go(func() error {
		return r.IPC.Listen(gctx, r.cfg.IPCNetwork, r.cfg.IPCAddr)
	})
	g.Go(func() error {
		r.runAnnounceLoop(gctx)
		return nil
	})

	<-gctx.Done()
	nlog.Infof("router: shutting down, draining in-flight work")

	waitErr := g.Wait()
	if err := r.Journal.Close(); err != nil {
		nlog.Warningf("router: journal close: %v", err)
	}

	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("router: %w", waitErr)
	}
	return nil
}

var _ endpoint.Endpoint = (*tcp.Driver)(nil)
