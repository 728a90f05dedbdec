package tcp

import (
	"encoding/binary"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

// helloPayload is carried as the payload of a ModePeerHello carrier
// frame: the dialling side's PeerType, listening port (for Cross
// upgrade), and router key id, mirroring Handshake::Hello in
// original_source/netmods/netmod-inet/src/proto.rs's sibling type.
type helloPayload struct {
	peerType PeerType
	selfPort uint16
	keyID    id.Ident32
}

func encodeHello(h helloPayload) []byte {
	buf := make([]byte, 0, 1+2+id.Ident32Len)
	buf = append(buf, byte(h.peerType))
	buf = binary.BigEndian.AppendUint16(buf, h.selfPort)
	buf = append(buf, h.keyID.Bytes()...)
	return buf
}

func decodeHello(buf []byte) (helloPayload, error) {
	if len(buf) < 1+2+id.Ident32Len {
		return helloPayload{}, cos.NewErrEncoding("hello payload truncated")
	}
	return helloPayload{
		peerType: PeerType(buf[0]),
		selfPort: binary.BigEndian.Uint16(buf[1:3]),
		keyID:    id.Ident32FromBytes(buf[3 : 3+id.Ident32Len]),
	}, nil
}

// ackPayload is carried as the payload of a ModePeerAck carrier frame,
// echoing back the peer type the acking side observed and its own
// router key id, so both sides can confirm symmetric expectations.
type ackPayload struct {
	peerType PeerType
	keyID    id.Ident32
}

func encodeAck(a ackPayload) []byte {
	buf := make([]byte, 0, 1+id.Ident32Len)
	buf = append(buf, byte(a.peerType))
	buf = append(buf, a.keyID.Bytes()...)
	return buf
}

func decodeAck(buf []byte) (ackPayload, error) {
	if len(buf) < 1+id.Ident32Len {
		return ackPayload{}, cos.NewErrEncoding("ack payload truncated")
	}
	return ackPayload{
		peerType: PeerType(buf[0]),
		keyID:    id.Ident32FromBytes(buf[1 : 1+id.Ident32Len]),
	}, nil
}

func helloEnvelope(self id.Address, h helloPayload) frame.InMemoryEnvelope {
	payload := encodeHello(h)
	header := frame.NewPeeringHeader(frame.ModePeerHello, self, uint16(len(payload)))
	return frame.NewEnvelope(header, payload)
}

func ackEnvelope(self id.Address, a ackPayload) frame.InMemoryEnvelope {
	payload := encodeAck(a)
	header := frame.NewPeeringHeader(frame.ModePeerAck, self, uint16(len(payload)))
	return frame.NewEnvelope(header, payload)
}
