package router

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/internal/nlog"
	"github.com/irdest-go/ratman/xswitch"
)

// runAnnounceLoop floods one signed AnnouncePayload per local address
// every AnnouncePeriod, so neighbours keep the route table populated
// without the local address ever going stale, per spec.md §4.4/§4.6.
func (r *Router) runAnnounceLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.AnnouncePeriod)
	defer ticker.Stop()

	r.announceOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.announceOnce(ctx)
		}
	}
}

func (r *Router) announceOnce(ctx context.Context) {
	for _, addr := range r.Table.LocalAddresses() {
		payload := xswitch.AnnouncePayload{
			Address:  addr,
			IssuedAt: time.Now(),
			TTL:      r.cfg.AnnounceTTL,
		}
		unsigned := xswitch.EncodeAnnounce(payload)
		payload.Signature = ed25519.Sign(r.signKey, unsigned)
		body := xswitch.EncodeAnnounce(payload)

		env := frame.NewEnvelope(frame.NewAnnounceHeader(addr, uint16(len(body))), body)
		if err := r.Switch.Flood(ctx, env); err != nil {
			nlog.Warningf("router: announce flood for %s: %v", addr, err)
		}
	}
}
