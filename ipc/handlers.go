package ipc

import (
	"context"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

func (s *Server) handleAddr(op frame.ClientOp, payload []byte) ServerPing {
	switch op {
	case frame.OpCreate:
		addr := s.addrs.Create(string(payload))
		return PingAddrList([]id.Address{addr})
	case frame.OpDestroy:
		addr, ok := id.ParseAddress(payload)
		if !ok {
			return PingError("invalid-request", "ADDR/DESTROY requires a 32-byte address")
		}
		if err := s.addrs.Destroy(addr); err != nil {
			return errPing(err)
		}
		return PingOk()
	case frame.OpUp:
		addr, ok := id.ParseAddress(payload)
		if !ok {
			return PingError("invalid-request", "ADDR/UP requires a 32-byte address")
		}
		if err := s.addrs.Up(addr); err != nil {
			return errPing(err)
		}
		return PingOk()
	case frame.OpDown:
		addr, ok := id.ParseAddress(payload)
		if !ok {
			return PingError("invalid-request", "ADDR/DOWN requires a 32-byte address")
		}
		if err := s.addrs.Down(addr); err != nil {
			return errPing(err)
		}
		return PingOk()
	case frame.OpList:
		return PingAddrList(s.addrs.List())
	default:
		return PingError("invalid-mode", "ADDR does not support operator 0x%x", op)
	}
}

func (s *Server) handlePeer(op frame.ClientOp, payload []byte) ServerPing {
	switch op {
	case frame.OpList:
		snap := s.table.Snapshot()
		addrs := make([]id.Address, 0, len(snap))
		for a := range snap {
			addrs = append(addrs, a)
		}
		return PingAddrList(addrs)
	case frame.OpQuery:
		addr, ok := id.ParseAddress(payload)
		if !ok {
			return PingError("invalid-request", "PEER/QUERY requires a 32-byte address")
		}
		if !s.table.Known(addr) {
			return PingError("unknown-peer", "%s is not in the route table", addr)
		}
		return PingOk()
	default:
		return PingError("invalid-mode", "PEER does not support operator 0x%x", op)
	}
}

// handleLink surfaces every address whose best route entry has
// HopCount 1, as a proxy for "link" in the absence of a separate
// per-transport link object (routes already carry endpoint/neighbour
// identity). The switch records every received announcement with
// HopCount 1, including reflooded ones from addresses further away, so
// the list is not limited to direct neighbours.
func (s *Server) handleLink(op frame.ClientOp) ServerPing {
	if op != frame.OpList {
		return PingError("invalid-mode", "LINK does not support operator 0x%x", op)
	}
	snap := s.table.Snapshot()
	addrs := make([]id.Address, 0, len(snap))
	for a, e := range snap {
		if e.HopCount == 1 {
			addrs = append(addrs, a)
		}
	}
	return PingAddrList(addrs)
}

func (s *Server) handleRecv(op frame.ClientOp, clientID id.Ident32) ServerPing {
	if op != frame.OpFetch {
		return PingError("invalid-mode", "RECV does not support operator 0x%x", op)
	}
	if s.subs.hasPending(clientID) {
		return PingOk()
	}
	return PingTimeout()
}

func (s *Server) handleSub(ctx context.Context, op frame.ClientOp, payload []byte, clientID id.Ident32) ServerPing {
	switch op {
	case frame.OpAdd:
		filter, err := decodeSubFilter(payload)
		if err != nil {
			return PingError("invalid-request", "%v", err)
		}
		sub, err := s.subs.add(ctx, clientID, filter)
		if err != nil {
			return errPing(err)
		}
		return PingSubscription(sub.id, sub.bind())
	case frame.OpDelete:
		subID, ok := id.ParseIdent32(payload)
		if !ok {
			return PingError("invalid-request", "SUB/DELETE requires a 32-byte sub_id")
		}
		s.subs.remove(subID)
		return PingOk()
	default:
		return PingError("invalid-mode", "SUB does not support operator 0x%x", op)
	}
}

func (s *Server) handleStatus(op frame.ClientOp) ServerPing {
	if op != frame.OpSystem {
		return PingError("invalid-mode", "STATUS does not support operator 0x%x", op)
	}
	return PingOk()
}

func errPing(err error) ServerPing {
	if ce, ok := err.(*cos.ErrClient); ok {
		return PingError(ce.Code, "%s", ce.Error())
	}
	return PingError("internal", "%v", err)
}
