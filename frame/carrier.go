// Package frame implements the two framing layers that coexist in the
// router: carrier frames (inter-router) and microframes (local client
// IPC). Both codecs are deterministic: parse(serialize(h)) == h for
// every valid header.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package frame

import (
	"encoding/binary"

	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

const CarrierVersion1 = 1

const (
	recipientTagTarget    = 0
	recipientTagNamespace = 1
	recipientTagBroadcast = 2
)

// CarrierFrameHeader is the per-hop routing header of a carrier frame
// (v1), per spec.md §3/§4.1. All multi-byte integers are big-endian.
type CarrierFrameHeader struct {
	Version       uint8
	Modes         uint16
	Sender        id.Address
	Recipient     *id.Recipient
	SeqID         *id.SequenceId
	AuxiliaryData *[64]byte
	SignatureData *[64]byte
	PayloadLength uint16
}

// NewAnnounceHeader builds the header for a flooded route announcement.
func NewAnnounceHeader(sender id.Address, payloadLength uint16) CarrierFrameHeader {
	seq := id.SequenceId{Hash: id.RandomIdent32(), Num: 0, Max: 0}
	return CarrierFrameHeader{
		Version:       CarrierVersion1,
		Modes:         ModeAnnounce,
		Sender:        sender,
		SeqID:         &seq,
		PayloadLength: payloadLength,
	}
}

// NewDataHeader builds the header for one ERIS-block data frame.
func NewDataHeader(sender id.Address, recipient id.Recipient, seq id.SequenceId, payloadLength uint16) CarrierFrameHeader {
	return CarrierFrameHeader{
		Version:       CarrierVersion1,
		Modes:         ModeData,
		Sender:        sender,
		Recipient:     &recipient,
		SeqID:         &seq,
		PayloadLength: payloadLength,
	}
}

// NewManifestHeader builds the header for a stream manifest frame.
func NewManifestHeader(sender id.Address, recipient id.Recipient, seq id.SequenceId, payloadLength uint16) CarrierFrameHeader {
	return CarrierFrameHeader{
		Version:       CarrierVersion1,
		Modes:         ModeManifest,
		Sender:        sender,
		Recipient:     &recipient,
		SeqID:         &seq,
		PayloadLength: payloadLength,
	}
}

// NewPeeringHeader builds a header for the TCP peering handshake/ping
// protocol, which never travels past one hop.
func NewPeeringHeader(modes uint16, routerAddr id.Address, payloadLength uint16) CarrierFrameHeader {
	return CarrierFrameHeader{
		Version:       CarrierVersion1,
		Modes:         modes,
		Sender:        routerAddr,
		PayloadLength: payloadLength,
	}
}

// Size returns the on-wire size of the header (not including payload).
func (h CarrierFrameHeader) Size() int {
	n := 1 + 2 + id.AddressLen + 2 // version + modes + sender + payload_length

	if h.Recipient == nil {
		n++
	} else {
		n += 2 // option tag + recipient discriminant
		if h.Recipient.Kind != id.RecipientBroadcast {
			n += id.AddressLen
		}
	}
	if h.SeqID == nil {
		n++
	} else {
		n += 1 + 40
	}
	if h.AuxiliaryData == nil {
		n++
	} else {
		n += 1 + 64
	}
	if h.SignatureData == nil {
		n++
	} else {
		n += 1 + 64
	}
	return n
}

// Encode appends the serialized header to buf and returns it.
func (h CarrierFrameHeader) Encode(buf []byte) []byte {
	buf = append(buf, CarrierVersion1)
	buf = binary.BigEndian.AppendUint16(buf, h.Modes)
	buf = append(buf, h.Sender[:]...)
	buf = encodeRecipient(buf, h.Recipient)
	buf = encodeSeqID(buf, h.SeqID)
	buf = encodeOpt64(buf, h.AuxiliaryData)
	buf = encodeOpt64(buf, h.SignatureData)
	buf = binary.BigEndian.AppendUint16(buf, h.PayloadLength)
	return buf
}

func encodeRecipient(buf []byte, r *id.Recipient) []byte {
	if r == nil {
		return append(buf, 0x00)
	}
	buf = append(buf, 0x01)
	switch r.Kind {
	case id.RecipientTarget:
		buf = append(buf, recipientTagTarget)
		buf = append(buf, r.Address[:]...)
	case id.RecipientNamespace:
		buf = append(buf, recipientTagNamespace)
		buf = append(buf, r.Address[:]...)
	default:
		buf = append(buf, recipientTagBroadcast)
	}
	return buf
}

func encodeSeqID(buf []byte, s *id.SequenceId) []byte {
	if s == nil {
		return append(buf, 0x00)
	}
	buf = append(buf, 0x01)
	buf = append(buf, s.Hash[:]...)
	buf = binary.BigEndian.AppendUint32(buf, s.Num)
	buf = binary.BigEndian.AppendUint32(buf, s.Max)
	return buf
}

func encodeOpt64(buf []byte, v *[64]byte) []byte {
	if v == nil {
		return append(buf, 0x00)
	}
	buf = append(buf, 0x01)
	return append(buf, v[:]...)
}

// ParseCarrierHeader decodes a header from the front of buf, returning
// the header and the number of bytes consumed. Unknown mode bits are
// preserved verbatim in h.Modes.
func ParseCarrierHeader(buf []byte) (h CarrierFrameHeader, consumed int, err error) {
	if len(buf) < 1 {
		return h, 0, cos.NewErrEncoding("carrier header: empty input")
	}
	version := buf[0]
	if version != CarrierVersion1 {
		return h, 0, cos.NewErrEncoding("invalid version: %d", version)
	}
	off := 1
	h.Version = version

	if len(buf) < off+2 {
		return h, 0, cos.NewErrEncoding("carrier header: truncated modes")
	}
	h.Modes = binary.BigEndian.Uint16(buf[off:])
	off += 2

	if len(buf) < off+id.AddressLen {
		return h, 0, cos.NewErrEncoding("carrier header: truncated sender")
	}
	copy(h.Sender[:], buf[off:])
	off += id.AddressLen

	rcp, n, err := decodeRecipient(buf[off:])
	if err != nil {
		return h, 0, err
	}
	h.Recipient = rcp
	off += n

	seq, n, err := decodeSeqID(buf[off:])
	if err != nil {
		return h, 0, err
	}
	h.SeqID = seq
	off += n

	aux, n, err := decodeOpt64(buf[off:])
	if err != nil {
		return h, 0, err
	}
	h.AuxiliaryData = aux
	off += n

	sig, n, err := decodeOpt64(buf[off:])
	if err != nil {
		return h, 0, err
	}
	h.SignatureData = sig
	off += n

	if len(buf) < off+2 {
		return h, 0, cos.NewErrEncoding("carrier header: truncated payload_length")
	}
	h.PayloadLength = binary.BigEndian.Uint16(buf[off:])
	off += 2

	return h, off, nil
}

func decodeRecipient(buf []byte) (*id.Recipient, int, error) {
	if len(buf) < 1 {
		return nil, 0, cos.NewErrEncoding("recipient: truncated tag")
	}
	if buf[0] == 0x00 {
		return nil, 1, nil
	}
	if len(buf) < 2 {
		return nil, 0, cos.NewErrEncoding("recipient: truncated discriminant")
	}
	switch buf[1] {
	case recipientTagTarget, recipientTagNamespace:
		if len(buf) < 2+id.AddressLen {
			return nil, 0, cos.NewErrEncoding("recipient: truncated address")
		}
		a, _ := id.ParseAddress(buf[2 : 2+id.AddressLen])
		kind := id.RecipientKind(buf[1])
		return &id.Recipient{Kind: kind, Address: a}, 2 + id.AddressLen, nil
	case recipientTagBroadcast:
		r := id.Broadcast()
		return &r, 2, nil
	default:
		return nil, 0, cos.NewErrEncoding("recipient: unknown discriminant %d", buf[1])
	}
}

func decodeSeqID(buf []byte) (*id.SequenceId, int, error) {
	if len(buf) < 1 {
		return nil, 0, cos.NewErrEncoding("seq_id: truncated tag")
	}
	if buf[0] == 0x00 {
		return nil, 1, nil
	}
	if len(buf) < 1+40 {
		return nil, 0, cos.NewErrEncoding("seq_id: truncated body")
	}
	hash := id.Ident32FromBytes(buf[1:33])
	num := binary.BigEndian.Uint32(buf[33:37])
	max := binary.BigEndian.Uint32(buf[37:41])
	return &id.SequenceId{Hash: hash, Num: num, Max: max}, 41, nil
}

func decodeOpt64(buf []byte) (*[64]byte, int, error) {
	if len(buf) < 1 {
		return nil, 0, cos.NewErrEncoding("opt64: truncated tag")
	}
	if buf[0] == 0x00 {
		return nil, 1, nil
	}
	if len(buf) < 1+64 {
		return nil, 0, cos.NewErrEncoding("opt64: truncated body")
	}
	var v [64]byte
	copy(v[:], buf[1:65])
	return &v, 65, nil
}

// InMemoryEnvelope pairs a parsed header with the fully serialized
// header+payload buffer. Invariant: len(Buffer) == header.Size() +
// header.PayloadLength.
type InMemoryEnvelope struct {
	Header CarrierFrameHeader
	Buffer []byte
}

func NewEnvelope(h CarrierFrameHeader, payload []byte) InMemoryEnvelope {
	h.PayloadLength = uint16(len(payload))
	buf := h.Encode(make([]byte, 0, h.Size()+len(payload)))
	buf = append(buf, payload...)
	return InMemoryEnvelope{Header: h, Buffer: buf}
}

// ParseEnvelope decodes a complete header+payload buffer, trimming any
// trailing bytes past the declared payload length.
func ParseEnvelope(buf []byte) (InMemoryEnvelope, error) {
	h, n, err := ParseCarrierHeader(buf)
	if err != nil {
		return InMemoryEnvelope{}, err
	}
	total := n + int(h.PayloadLength)
	if len(buf) < total {
		return InMemoryEnvelope{}, cos.NewErrEncoding("envelope: truncated payload, want %d have %d", total, len(buf))
	}
	return InMemoryEnvelope{Header: h, Buffer: buf[:total]}, nil
}

// PayloadSlice returns the bytes following the header.
func (e InMemoryEnvelope) PayloadSlice() []byte {
	return e.Buffer[e.Header.Size():]
}
