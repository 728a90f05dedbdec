package xswitch

import (
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

// AnnouncePayload is the serialized body of an announcement frame, per
// spec.md §6: "a serialized {address, issued_at, ttl, optional
// signature}". Its layout is defined here, carried as the frame's
// payload (the header's AuxiliaryData/SignatureData slots are left for
// the TCP peering handshake, per the open question in spec.md §9).
type AnnouncePayload struct {
	Address   id.Address
	IssuedAt  time.Time
	TTL       time.Duration
	Signature []byte // ed25519.SignatureSize bytes, or empty if unsigned
}

func EncodeAnnounce(p AnnouncePayload) []byte {
	buf := make([]byte, 0, id.AddressLen+8+8+1+ed25519.SignatureSize)
	buf = append(buf, p.Address[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.IssuedAt.UnixNano()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.TTL))
	if len(p.Signature) == 0 {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = append(buf, p.Signature...)
	}
	return buf
}

func DecodeAnnounce(buf []byte) (AnnouncePayload, error) {
	const minLen = id.AddressLen + 8 + 8 + 1
	if len(buf) < minLen {
		return AnnouncePayload{}, cos.NewErrEncoding("announce payload truncated")
	}
	addr, _ := id.ParseAddress(buf[:id.AddressLen])
	off := id.AddressLen
	issuedAt := time.Unix(0, int64(binary.BigEndian.Uint64(buf[off:])))
	off += 8
	ttl := time.Duration(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	hasSig := buf[off]
	off++
	p := AnnouncePayload{Address: addr, IssuedAt: issuedAt, TTL: ttl}
	if hasSig == 1 {
		if len(buf) < off+ed25519.SignatureSize {
			return AnnouncePayload{}, cos.NewErrEncoding("announce payload: truncated signature")
		}
		p.Signature = append([]byte(nil), buf[off:off+ed25519.SignatureSize]...)
	}
	return p, nil
}

// VerifyAnnounce checks an announcement's signature against the
// address it claims to originate from (addresses are Ed25519 public
// keys, so the signing key is self-describing). An announcement
// without a signature is accepted unverified: signing is optional per
// spec.md §6, which leaves the field "optional signature".
func VerifyAnnounce(p AnnouncePayload) bool {
	if len(p.Signature) == 0 {
		return true
	}
	msg := EncodeAnnounce(AnnouncePayload{Address: p.Address, IssuedAt: p.IssuedAt, TTL: p.TTL})
	return ed25519.Verify(ed25519.PublicKey(p.Address[:]), msg, p.Signature)
}
