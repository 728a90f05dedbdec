// Package id holds the router's core addressing and identifier types:
// Address (an Ed25519 public key), the opaque Ident32 used for sequence
// and session IDs, the Recipient tagged variant, and the SequenceId
// triple that binds carrier frames into a logical message.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package id

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
)

const AddressLen = ed25519.PublicKeySize // 32

// Address is a routable identity: an Ed25519 public key. A router address
// may roam between physical links without re-addressing, since routing
// is keyed on Address, not on network location.
type Address [AddressLen]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Equal reports bytewise equality, per spec.
func (a Address) Equal(o Address) bool { return a == o }

func (a Address) IsZero() bool { return a == Address{} }

// RandomAddress generates an address from fresh key material. Intended
// for tests and for the in-memory/loopback endpoint; production
// addresses are derived from a caller-supplied Ed25519 keypair.
func RandomAddress() Address {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic("id: failed to read randomness: " + err.Error())
	}
	var a Address
	copy(a[:], pub)
	return a
}

func AddressFromPublicKey(pub ed25519.PublicKey) (a Address) {
	copy(a[:], pub)
	return a
}

func ParseAddress(b []byte) (a Address, ok bool) {
	if len(b) != AddressLen {
		return a, false
	}
	copy(a[:], b)
	return a, true
}
