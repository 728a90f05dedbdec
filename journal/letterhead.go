package journal

import (
	"sort"

	"github.com/tidwall/buntdb"

	"github.com/irdest-go/ratman/id"
)

// prefixPartial stores ERIS blocks belonging to an in-progress SEND/ONE
// upload, keyed by (sender, letterhead hash, block index), so a client
// that disconnects mid-upload can resume by re-sending an identical
// letterhead, per spec.md §4.8 and the original's
// ratman/src/api/parse.rs resumable-send behaviour noted in
// SPEC_FULL.md §4.
const prefixPartial = "partial:"

func partialKey(sender id.Address, letterheadHash id.Ident32, blockIdx uint32) string {
	return prefixPartial + sender.String() + "::" + letterheadHash.String() + "::" + idToStr(blockIdx)
}

func partialPrefix(sender id.Address, letterheadHash id.Ident32) string {
	return prefixPartial + sender.String() + "::" + letterheadHash.String() + "::"
}

// SavePartialBlock stores one block of an in-progress upload.
func (s *Store) SavePartialBlock(sender id.Address, letterheadHash id.Ident32, blockIdx uint32, data []byte) error {
	value := string(compress(data))
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(partialKey(sender, letterheadHash, blockIdx), value, nil)
		return err
	})
}

// LoadPartialBlocks returns every block saved so far for (sender,
// letterheadHash), in ascending index order, letting a resumed upload
// skip blocks it has already received.
func (s *Store) LoadPartialBlocks(sender id.Address, letterheadHash id.Ident32) ([][]byte, error) {
	prefix := partialPrefix(sender, letterheadHash)
	type indexed struct {
		idx  uint32
		data []byte
	}
	var items []indexed
	err := s.db.View(func(tx *buntdb.Tx) error {
		var rangeErr error
		tx.AscendKeys(prefix+"*", func(key, value string) bool {
			raw, derr := decompress([]byte(value))
			if derr != nil {
				rangeErr = derr
				return false
			}
			idxHex := key[len(key)-8:]
			idxBytes, _ := hexDecode(idxHex)
			var idx uint32
			for _, b := range idxBytes {
				idx = idx<<8 | uint32(b)
			}
			items = append(items, indexed{idx: idx, data: raw})
			return true
		})
		return rangeErr
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = it.data
	}
	return out, nil
}

// PurgePartial deletes every saved block for a completed or abandoned
// upload.
func (s *Store) PurgePartial(sender id.Address, letterheadHash id.Ident32) error {
	prefix := partialPrefix(sender, letterheadHash)
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
