package journal

import (
	"golang.org/x/crypto/blake2b"

	"github.com/tidwall/buntdb"

	"github.com/irdest-go/ratman/id"
)

const prefixBlock = "block:"

// BlockReference content-addresses an ERIS block by its blake2b-256
// digest, distinct from the xxhash fast-path used for frame-id loop
// suppression: block references are a durable, cryptographic identity
// that survives across runs, not a hot-path membership check.
func BlockReference(data []byte) id.Ident32 {
	sum := blake2b.Sum256(data)
	return id.Ident32(sum)
}

func blockKey(ref id.Ident32) string { return prefixBlock + ref.String() }

// QueueBlock idempotently stores an assembled ERIS content block, keyed
// by its content hash.
func (s *Store) QueueBlock(ref id.Ident32, data []byte) error {
	value := string(compress(data))
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(blockKey(ref), value, nil)
		return err
	})
}

// LoadBlock returns a previously queued block, or ok == false if no
// block with that reference has been stored.
func (s *Store) LoadBlock(ref id.Ident32) (data []byte, ok bool, err error) {
	err = s.db.View(func(tx *buntdb.Tx) error {
		v, gerr := tx.Get(blockKey(ref))
		if gerr == buntdb.ErrNotFound {
			return nil
		}
		if gerr != nil {
			return gerr
		}
		ok = true
		data, err = decompress([]byte(v))
		return err
	})
	return data, ok, err
}
