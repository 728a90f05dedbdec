package frame

import (
	"encoding/binary"

	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

// MicroframeHeader is the header of the local client IPC protocol, per
// spec.md §4.1: modes, an optional ClientAuth, and the trailing
// payload's size.
type MicroframeHeader struct {
	Modes       uint16
	Auth        *id.ClientAuth
	PayloadSize uint32
}

func IntrinsicHeader(auth *id.ClientAuth) MicroframeHeader {
	return MicroframeHeader{Modes: MakeClientMode(NsIntrinsic, OpSystem), Auth: auth}
}

// Encode serializes just the header (no payload) — the wire layout
// prefixes this with a u32 length, handled by the IPC transport, not
// here, per spec.md §4.1 ("u32 header_length || header_bytes ||
// payload_bytes").
func (h MicroframeHeader) Encode() []byte {
	buf := make([]byte, 0, 2+1+64+4)
	buf = binary.BigEndian.AppendUint16(buf, h.Modes)
	buf = encodeClientAuth(buf, h.Auth)
	buf = binary.BigEndian.AppendUint32(buf, h.PayloadSize)
	return buf
}

func encodeClientAuth(buf []byte, a *id.ClientAuth) []byte {
	if a == nil {
		return append(buf, 0x00)
	}
	buf = append(buf, 0x01)
	buf = append(buf, a.ClientID[:]...)
	buf = append(buf, a.Token[:]...)
	return buf
}

func decodeClientAuth(buf []byte) (*id.ClientAuth, int, error) {
	if len(buf) < 1 {
		return nil, 0, cos.NewErrEncoding("client_auth: truncated tag")
	}
	if buf[0] == 0x00 {
		return nil, 1, nil
	}
	if len(buf) < 1+2*id.Ident32Len {
		return nil, 0, cos.NewErrEncoding("client_auth: truncated body")
	}
	a := &id.ClientAuth{
		ClientID: id.Ident32FromBytes(buf[1 : 1+id.Ident32Len]),
		Token:    id.Ident32FromBytes(buf[1+id.Ident32Len : 1+2*id.Ident32Len]),
	}
	return a, 1 + 2*id.Ident32Len, nil
}

// ParseMicroframeHeader decodes a MicroframeHeader, consuming the whole
// of buf (the caller already isolated the header_bytes via the
// preceding u32 header_length).
func ParseMicroframeHeader(buf []byte) (MicroframeHeader, error) {
	var h MicroframeHeader
	if len(buf) < 2 {
		return h, cos.NewErrEncoding("microframe header: truncated modes")
	}
	h.Modes = binary.BigEndian.Uint16(buf)
	off := 2

	auth, n, err := decodeClientAuth(buf[off:])
	if err != nil {
		return h, err
	}
	h.Auth = auth
	off += n

	if len(buf) < off+4 {
		return h, cos.NewErrEncoding("microframe header: truncated payload_size")
	}
	h.PayloadSize = binary.BigEndian.Uint32(buf[off:])
	return h, nil
}

// ValidateClientMode rejects a mode that is not a defined client opcode
// with a *cos.ErrClient carrying the structured code "invalid-mode",
// never a free-form string.
func ValidateClientMode(modes uint16) error {
	if !ClientModeValid(modes) {
		return cos.NewErrClient("invalid-mode", "mode 0x%04x is not a recognised opcode", modes)
	}
	return nil
}
