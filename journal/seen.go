package journal

import (
	"github.com/tidwall/buntdb"

	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

const prefixSeen = "seen:"

func seenKey(fid id.Ident32) string { return prefixSeen + fid.String() }

// IsUnknown reports whether fid has not yet been processed by the
// switch. The cuckoo filter is consulted first (a "definitely not
// present" answer short-circuits without touching buntdb); a filter hit
// falls through to buntdb since the filter may return false positives.
func (s *Store) IsUnknown(fid id.Ident32) bool {
	key := []byte(seenKey(fid))

	s.seenMu.Lock()
	maybePresent := s.seen.Lookup(key)
	s.seenMu.Unlock()
	if !maybePresent {
		return true
	}

	var found bool
	err := s.db.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(string(key))
		found = err == nil
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		// Fail open: an unreadable journal must not silently suppress a
		// frame as a duplicate.
		return true
	}
	return !found
}

// SaveAsKnown idempotently marks fid as processed. Calling it twice for
// the same id is equivalent to calling it once.
func (s *Store) SaveAsKnown(fid id.Ident32) error {
	key := seenKey(fid)

	s.seenMu.Lock()
	s.seen.InsertUnique([]byte(key))
	s.seenMu.Unlock()

	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, "1", nil)
		return err
	})
	if err != nil {
		return cos.NewErrFatal("journal: save-as-known %s: %v", fid, err)
	}
	return nil
}
