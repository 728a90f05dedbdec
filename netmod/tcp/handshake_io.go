package tcp

import (
	"net"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

// handshakeOutbound sends a Hello and waits for a matching Ack,
// mirroring session::handshake on the dialling side.
func (d *Driver) handshakeOutbound(conn net.Conn, peerType PeerType) (id.Ident32, error) {
	hello := helloEnvelope(d.selfAddr, helloPayload{peerType: peerType, selfPort: 0, keyID: d.selfKeyID})
	if _, err := writeEnvelope(conn, hello); err != nil {
		return id.Ident32{}, err
	}

	env, err := readEnvelope(conn)
	if err != nil {
		return id.Ident32{}, err
	}
	if !frame.HasMode(env.Header.Modes, frame.ModePeerAck) {
		return id.Ident32{}, cos.NewErrNetmod(nil, "expected peer ack, got modes 0x%04x", env.Header.Modes)
	}
	ack, err := decodeAck(env.PayloadSlice())
	if err != nil {
		return id.Ident32{}, err
	}
	if ack.peerType != peerType {
		return id.Ident32{}, cos.NewErrNetmod(nil, "handshake peer type mismatch: sent %s, acked %s", peerType, ack.peerType)
	}
	return ack.keyID, nil
}

// handshakeInbound waits for a Hello and replies with an Ack, mirroring
// the accepting side of a Cross or Standard connection.
func (d *Driver) handshakeInbound(conn net.Conn) (PeerType, id.Ident32, error) {
	env, err := readEnvelope(conn)
	if err != nil {
		return 0, id.Ident32{}, err
	}
	if !frame.HasMode(env.Header.Modes, frame.ModePeerHello) {
		return 0, id.Ident32{}, cos.NewErrNetmod(nil, "expected peer hello, got modes 0x%04x", env.Header.Modes)
	}
	hello, err := decodeHello(env.PayloadSlice())
	if err != nil {
		return 0, id.Ident32{}, err
	}
	if hello.peerType == Limited {
		return 0, id.Ident32{}, cos.NewErrNetmod(nil, "limited peer type is not implemented")
	}

	ack := ackEnvelope(d.selfAddr, ackPayload{peerType: hello.peerType, keyID: d.selfKeyID})
	if _, err := writeEnvelope(conn, ack); err != nil {
		return 0, id.Ident32{}, err
	}
	return hello.peerType, hello.keyID, nil
}
