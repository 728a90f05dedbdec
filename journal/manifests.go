package journal

import (
	"github.com/tidwall/buntdb"

	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

const prefixManifest = "manifest:"

func manifestKey(seqHash id.Ident32) string { return prefixManifest + seqHash.String() }

// ManifestRecord is the manifests-partition value: the ERIS stream
// manifest plus sender/recipient and whether it has already been
// forwarded onward, per spec.md §3.
type ManifestRecord struct {
	Sender    id.Address
	Recipient id.Address
	Manifest  []byte
	Forwarded bool
}

// QueueManifest stores a stream manifest, keyed by sequence hash.
func (s *Store) QueueManifest(seqHash id.Ident32, rec ManifestRecord) error {
	v := manifestValue{
		Sender:    rec.Sender[:],
		Recipient: rec.Recipient[:],
		Manifest:  rec.Manifest,
		Forwarded: rec.Forwarded,
	}
	raw, err := v.MarshalMsg(nil)
	if err != nil {
		return cos.NewErrEncoding("journal: marshal manifest: %v", err)
	}
	value := string(compress(raw))
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(manifestKey(seqHash), value, nil)
		return err
	})
}

// LoadManifest returns the manifest record for seqHash, if any.
func (s *Store) LoadManifest(seqHash id.Ident32) (rec ManifestRecord, ok bool, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		stored, gerr := tx.Get(manifestKey(seqHash))
		if gerr == buntdb.ErrNotFound {
			return nil
		}
		if gerr != nil {
			return gerr
		}
		raw, derr := decompress([]byte(stored))
		if derr != nil {
			return derr
		}
		var v manifestValue
		if _, uerr := v.UnmarshalMsg(raw); uerr != nil {
			return uerr
		}
		sender, _ := id.ParseAddress(v.Sender)
		recipient, _ := id.ParseAddress(v.Recipient)
		rec = ManifestRecord{Sender: sender, Recipient: recipient, Manifest: v.Manifest, Forwarded: v.Forwarded}
		ok = true
		return nil
	})
	return rec, ok, err
}

// MarkForwarded flips the Forwarded flag on an existing manifest record.
func (s *Store) MarkForwarded(seqHash id.Ident32) error {
	rec, ok, err := s.LoadManifest(seqHash)
	if err != nil {
		return err
	}
	if !ok {
		return cos.NewErrEncoding("journal: no manifest for %s to mark forwarded", seqHash)
	}
	rec.Forwarded = true
	return s.QueueManifest(seqHash, rec)
}

// hasManifest reports whether seqHash has a stored manifest, used by
// the GC pass to distinguish "cannot complete" pending frames (no
// manifest, safe to evict under quota pressure) from manifested
// incomplete streams (preserved until DelayToleranceTTL).
func (s *Store) hasManifest(seqHash id.Ident32) bool {
	_, ok, _ := s.LoadManifest(seqHash)
	return ok
}
