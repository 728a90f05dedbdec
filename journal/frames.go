package journal

import (
	"sort"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

const prefixFrame = "frame:"

func frameKey(seq id.SequenceId) string { return prefixFrame + seq.Key() }
func framePrefix(seqHash id.Ident32) string {
	return prefixFrame + seqHash.String() + "::"
}

// QueueFrame idempotently overwrites the pending-frames entry for one
// carrier frame, key = "<seq_hash>::<num>", per spec.md §4.5.
func (s *Store) QueueFrame(env frame.InMemoryEnvelope, manifested bool) error {
	seq := env.Header.SeqID
	if seq == nil {
		return cos.NewErrEncoding("journal: cannot queue a frame without a sequence id")
	}
	rec := pendingRecord{
		Envelope:   env.Buffer,
		QueuedAt:   time.Now().UnixNano(),
		FrameNum:   seq.Num,
		FrameMax:   seq.Max,
		Manifested: manifested,
	}
	raw, err := rec.MarshalMsg(nil)
	if err != nil {
		return cos.NewErrEncoding("journal: marshal pending frame: %v", err)
	}
	value := string(compress(raw))
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(frameKey(*seq), value, nil)
		return err
	})
}

// LoadPendingFor prefix-scans the frames partition for seqHash and
// returns the frames in ascending `num` order.
func (s *Store) LoadPendingFor(seqHash id.Ident32) ([]frame.InMemoryEnvelope, error) {
	recs, err := s.loadPendingRecords(seqHash)
	if err != nil {
		return nil, err
	}
	out := make([]frame.InMemoryEnvelope, 0, len(recs))
	for _, r := range recs {
		env, err := frame.ParseEnvelope(r.Envelope)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func (s *Store) loadPendingRecords(seqHash id.Ident32) ([]pendingRecord, error) {
	prefix := framePrefix(seqHash)
	var recs []pendingRecord
	err := s.db.View(func(tx *buntdb.Tx) error {
		var rangeErr error
		tx.AscendKeys(prefix+"*", func(_, value string) bool {
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
			recs = append(recs, rec)
			return true
		})
		return rangeErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].FrameNum < recs[j].FrameNum })
	return recs, nil
}

// PurgeSequence range-deletes every pending frame for seqHash, called by
// the collector after a sequence has been fully assembled.
func (s *Store) PurgeSequence(seqHash id.Ident32) error {
	prefix := framePrefix(seqHash)
	return s.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		tx.AscendKeys(prefix+"*", func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

// totalFrameBytes sums the stored (post-compression) size of every
// pending-frame value, used by the GC pass to compare against quota.
func (s *Store) totalFrameBytes() (int64, error) {
	var total int64
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixFrame+"*", func(_, value string) bool {
			total += int64(len(value))
			return true
		})
	})
	return total, err
}
