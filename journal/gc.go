package journal

import (
	"context"
	"sort"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/nlog"
)

type gcCandidate struct {
	key        string
	seqHash    id.Ident32
	queuedAt   int64
	progress   float64 // frames_received/max ratio of its sequence
	manifested bool
	size       int64
}

// RunGC runs one garbage-collection pass: if total pending-frame bytes
// exceed QuotaHighBytes, the oldest frames whose sequence has no
// manifest (and therefore cannot complete) are deleted until usage
// drops below QuotaLowBytes. Manifested-but-incomplete sequences are
// preserved until DelayToleranceTTL has elapsed since they were queued,
// per spec.md §4.5 and the refinement from
// ratman/src/journal/mod.rs noted in SPEC_FULL.md §4.
func (s *Store) RunGC() error {
	total, err := s.totalFrameBytes()
	if err != nil {
		return err
	}
	if total <= s.cfg.QuotaHighBytes {
		return nil
	}

	candidates, err := s.collectCandidates()
	if err != nil {
		return err
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.queuedAt != cj.queuedAt {
			return ci.queuedAt < cj.queuedAt
		}
		return ci.progress < cj.progress
	})

	now := time.Now().UnixNano()
	var freed int64
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, c := range candidates {
			if total-freed <= s.cfg.QuotaLowBytes {
				break
			}
			if c.manifested && now-c.queuedAt < s.cfg.DelayToleranceTTL.Nanoseconds() {
				continue // preserved: manifested stream still within its TTL
			}
			if _, err := tx.Delete(c.key); err != nil && err != buntdb.ErrNotFound {
				return err
			}
			freed += c.size
		}
		nlog.Infof("journal: gc freed %d bytes (total was %d)", freed, total)
		return nil
	})
}

func (s *Store) collectCandidates() ([]gcCandidate, error) {
	var out []gcCandidate
	received := make(map[id.Ident32]int)
	frameMax := make(map[id.Ident32]uint32)
	err := s.db.View(func(tx *buntdb.Tx) error {
		var rangeErr error
		tx.AscendKeys(prefixFrame+"*", func(key, value string) bool {
			raw, derr := decompress([]byte(value))
			if derr != nil {
				rangeErr = derr
				return false
			}
			var rec pendingRecord
			if _, uerr := rec.UnmarshalMsg(raw); uerr != nil {
				rangeErr = uerr
				return false
			}
			seqHashHex := key[len(prefixFrame) : len(prefixFrame)+64]
			seqHashBytes, herr := hexDecode(seqHashHex)
			if herr != nil {
				return true
			}
			seqHash := id.Ident32FromBytes(seqHashBytes)
			received[seqHash]++
			frameMax[seqHash] = rec.FrameMax
			out = append(out, gcCandidate{
				key:        key,
				seqHash:    seqHash,
				queuedAt:   rec.QueuedAt,
				manifested: rec.Manifested || s.hasManifest(seqHash),
				size:       int64(len(value)),
			})
			return true
		})
		return rangeErr
	})
	for i := range out {
		if m := frameMax[out[i].seqHash]; m > 0 {
			out[i].progress = float64(received[out[i].seqHash]) / float64(m)
		}
	}
	return out, err
}

// RunGCLoop runs RunGC every GCInterval until ctx is cancelled.
func (s *Store) RunGCLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunGC(); err != nil {
				nlog.Errorf("journal: gc pass failed: %v", err)
			}
		}
	}
}
