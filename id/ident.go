package id

import (
	"crypto/rand"
	"encoding/hex"
)

const Ident32Len = 32

// Ident32 is an opaque 32-byte identifier used for sequence IDs, frame
// IDs, router keys, subscription IDs, and client auth tokens.
type Ident32 [Ident32Len]byte

func (id Ident32) String() string  { return hex.EncodeToString(id[:]) }
func (id Ident32) IsZero() bool    { return id == Ident32{} }
func (id Ident32) Equal(o Ident32) bool { return id == o }

func (id Ident32) Bytes() []byte {
	b := make([]byte, Ident32Len)
	copy(b, id[:])
	return b
}

func RandomIdent32() Ident32 {
	var id Ident32
	if _, err := rand.Read(id[:]); err != nil {
		panic("id: failed to read randomness: " + err.Error())
	}
	return id
}

func ParseIdent32(b []byte) (id Ident32, ok bool) {
	if len(b) != Ident32Len {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

func Ident32FromBytes(b []byte) Ident32 {
	var id Ident32
	copy(id[:], b)
	return id
}
