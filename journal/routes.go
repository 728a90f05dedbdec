package journal

import (
	"time"

	"github.com/tidwall/buntdb"

	"github.com/irdest-go/ratman/endpoint"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
	"github.com/irdest-go/ratman/route"
)

const prefixRoute = "route:"

func routeKey(addr id.Address, via route.EndpointID, nb endpoint.NeighbourID) string {
	return prefixRoute + addr.String() + "::" + idToStr(uint32(via)) + "::" + idToStr(uint32(nb))
}

func idToStr(n uint32) string {
	const hex = "0123456789abcdef"
	b := [8]byte{}
	for i := 7; i >= 0; i-- {
		b[i] = hex[n&0xf]
		n >>= 4
	}
	return string(b[:])
}

// SaveRoute persists one route entry, called by route.Table on every
// upsert (expiry-driven deletions go through DeleteRoute). Implements
// route.Persister.
func (s *Store) SaveRoute(addr id.Address, e route.Entry) error {
	v := routeValue{
		ViaEndpoint:   uint16(e.ViaEndpoint),
		ViaNeighbour:  uint16(e.ViaNeighbour),
		HopCount:      e.HopCount,
		LastSeenUnix:  e.LastSeen.UnixNano(),
		BandwidthEWMA: e.BandwidthEWMA,
	}
	raw, err := v.MarshalMsg(nil)
	if err != nil {
		return cos.NewErrEncoding("journal: marshal route: %v", err)
	}
	key := routeKey(addr, e.ViaEndpoint, e.ViaNeighbour)
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(raw), nil)
		return err
	})
}

// DeleteRoute removes one persisted route entry.
func (s *Store) DeleteRoute(addr id.Address, via route.EndpointID, nb endpoint.NeighbourID) error {
	key := routeKey(addr, via, nb)
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// LoadRoutes reads every persisted route entry on startup, grouped by
// address, for route.Table.Seed to mark Stale until refreshed.
func (s *Store) LoadRoutes() (map[id.Address][]route.Entry, error) {
	out := make(map[id.Address][]route.Entry)
	err := s.db.View(func(tx *buntdb.Tx) error {
		var rangeErr error
		tx.AscendKeys(prefixRoute+"*", func(key, value string) bool {
			addrHex := key[len(prefixRoute) : len(prefixRoute)+64]
			addrBytes, err := hexDecode(addrHex)
			if err != nil {
				rangeErr = err
				return false
			}
			addr, ok := id.ParseAddress(addrBytes)
			if !ok {
				return true
			}
			var v routeValue
			if _, err := v.UnmarshalMsg([]byte(value)); err != nil {
				rangeErr = err
				return false
			}
			out[addr] = append(out[addr], route.Entry{
				Address:       addr,
				ViaEndpoint:   route.EndpointID(v.ViaEndpoint),
				ViaNeighbour:  endpoint.NeighbourID(v.ViaNeighbour),
				HopCount:      v.HopCount,
				LastSeen:      time.Unix(0, v.LastSeenUnix),
				BandwidthEWMA: v.BandwidthEWMA,
			})
			return true
		})
		return rangeErr
	})
	return out, err
}

func hexDecode(s string) ([]byte, error) {
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	default:
		return 0, cos.NewErrEncoding("journal: invalid hex digit %q", c)
	}
}

var _ route.Persister = (*Store)(nil)
