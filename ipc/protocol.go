// Package ipc implements the local client IPC server (C8): the
// greeting/authenticate/steady-state microframe protocol described in
// spec.md §4.8, wired to the route table, journal, switch, and
// collector built by the other packages.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package ipc

import (
	"encoding/binary"
	"fmt"

	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

// ProtocolVersion is exchanged during the greeting step, per
// spec.md §4.8 step 1. A client requesting a different version is
// rejected with PingIncompatibleVersion before authentication.
const ProtocolVersion = 1

// Handshake is the greeting payload, carried on an intrinsic
// microframe in both directions.
type Handshake struct {
	Version uint32
}

func (h Handshake) Encode() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, h.Version)
	return buf
}

func DecodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) < 4 {
		return Handshake{}, cos.NewErrEncoding("handshake: truncated version")
	}
	return Handshake{Version: binary.BigEndian.Uint32(buf)}, nil
}

type pingTag uint8

const (
	pingOk pingTag = iota
	pingError
	pingAddrList
	pingSubscription
	pingSendSocket
	pingUpdate
	pingTimeout
	pingIncompatibleVersion
)

// ServerPing is the tagged response the server sends for every
// steady-state client request, per spec.md §4.8 step 3.
type ServerPing struct {
	tag pingTag

	ErrCode string
	ErrMsg  string

	Addrs []id.Address

	SubID   id.Ident32
	SubBind string

	SocketBind string

	AvailableSubs []id.Ident32
}

func PingOk() ServerPing                 { return ServerPing{tag: pingOk} }
func PingTimeout() ServerPing            { return ServerPing{tag: pingTimeout} }
func PingIncompatibleVersion() ServerPing { return ServerPing{tag: pingIncompatibleVersion} }

func PingError(code, format string, a ...any) ServerPing {
	return ServerPing{tag: pingError, ErrCode: code, ErrMsg: fmt.Sprintf(format, a...)}
}

func PingAddrList(addrs []id.Address) ServerPing {
	return ServerPing{tag: pingAddrList, Addrs: addrs}
}

func PingSubscription(subID id.Ident32, bind string) ServerPing {
	return ServerPing{tag: pingSubscription, SubID: subID, SubBind: bind}
}

func PingSendSocket(bind string) ServerPing {
	return ServerPing{tag: pingSendSocket, SocketBind: bind}
}

func PingUpdate(subs []id.Ident32) ServerPing {
	return ServerPing{tag: pingUpdate, AvailableSubs: subs}
}

func (p ServerPing) IsError() bool { return p.tag == pingError }

func (p ServerPing) Encode() []byte {
	buf := []byte{byte(p.tag)}
	switch p.tag {
	case pingError:
		buf = appendString(buf, p.ErrCode)
		buf = appendString(buf, p.ErrMsg)
	case pingAddrList:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Addrs)))
		for _, a := range p.Addrs {
			buf = append(buf, a[:]...)
		}
	case pingSubscription:
		buf = append(buf, p.SubID[:]...)
		buf = appendString(buf, p.SubBind)
	case pingSendSocket:
		buf = appendString(buf, p.SocketBind)
	case pingUpdate:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.AvailableSubs)))
		for _, s := range p.AvailableSubs {
			buf = append(buf, s[:]...)
		}
	}
	return buf
}

func DecodeServerPing(buf []byte) (ServerPing, error) {
	if len(buf) < 1 {
		return ServerPing{}, cos.NewErrEncoding("server_ping: empty input")
	}
	p := ServerPing{tag: pingTag(buf[0])}
	off := 1
	switch p.tag {
	case pingOk, pingTimeout, pingIncompatibleVersion:
	case pingError:
		code, n, err := readString(buf[off:])
		if err != nil {
			return p, err
		}
		p.ErrCode = code
		off += n
		msg, _, err := readString(buf[off:])
		if err != nil {
			return p, err
		}
		p.ErrMsg = msg
	case pingAddrList:
		if len(buf) < off+4 {
			return p, cos.NewErrEncoding("server_ping: truncated addr count")
		}
		count := binary.BigEndian.Uint32(buf[off:])
		off += 4
		for i := uint32(0); i < count; i++ {
			if len(buf) < off+id.AddressLen {
				return p, cos.NewErrEncoding("server_ping: truncated addr list")
			}
			a, _ := id.ParseAddress(buf[off : off+id.AddressLen])
			p.Addrs = append(p.Addrs, a)
			off += id.AddressLen
		}
	case pingSubscription:
		if len(buf) < off+id.Ident32Len {
			return p, cos.NewErrEncoding("server_ping: truncated sub_id")
		}
		p.SubID = id.Ident32FromBytes(buf[off : off+id.Ident32Len])
		off += id.Ident32Len
		bind, _, err := readString(buf[off:])
		if err != nil {
			return p, err
		}
		p.SubBind = bind
	case pingSendSocket:
		bind, _, err := readString(buf[off:])
		if err != nil {
			return p, err
		}
		p.SocketBind = bind
	case pingUpdate:
		if len(buf) < off+4 {
			return p, cos.NewErrEncoding("server_ping: truncated sub count")
		}
		count := binary.BigEndian.Uint32(buf[off:])
		off += 4
		for i := uint32(0); i < count; i++ {
			if len(buf) < off+id.Ident32Len {
				return p, cos.NewErrEncoding("server_ping: truncated sub list")
			}
			p.AvailableSubs = append(p.AvailableSubs, id.Ident32FromBytes(buf[off:off+id.Ident32Len]))
			off += id.Ident32Len
		}
	default:
		return p, cos.NewErrEncoding("server_ping: unknown tag %d", p.tag)
	}
	return p, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, cos.NewErrEncoding("server_ping: truncated string length")
	}
	n := int(binary.BigEndian.Uint16(buf))
	if len(buf) < 2+n {
		return "", 0, cos.NewErrEncoding("server_ping: truncated string body")
	}
	return string(buf[2 : 2+n]), 2 + n, nil
}

// Letterhead is the metadata prelude describing a send operation:
// sender, recipient, payload length, and an optional namespace scope,
// per the GLOSSARY entry and spec.md §4.8 ("Send flow").
type Letterhead struct {
	Sender        id.Address
	Recipient     id.Recipient
	PayloadLength uint32
	Namespace     *id.Address
}

func (l Letterhead) Encode() []byte {
	buf := make([]byte, 0, id.AddressLen*2+8)
	buf = append(buf, l.Sender[:]...)
	buf = encodeRecipientTag(buf, l.Recipient)
	buf = binary.BigEndian.AppendUint32(buf, l.PayloadLength)
	if l.Namespace == nil {
		buf = append(buf, 0x00)
	} else {
		buf = append(buf, 0x01)
		buf = append(buf, l.Namespace[:]...)
	}
	return buf
}

// DecodeLetterhead decodes a Letterhead from the front of buf and
// returns the number of bytes consumed, so a caller (SEND/MANY) can
// find the message body immediately following it in the same payload.
func DecodeLetterhead(buf []byte) (Letterhead, int, error) {
	if len(buf) < id.AddressLen {
		return Letterhead{}, 0, cos.NewErrEncoding("letterhead: truncated sender")
	}
	sender, _ := id.ParseAddress(buf[:id.AddressLen])
	off := id.AddressLen

	recipient, n, err := decodeRecipientTag(buf[off:])
	if err != nil {
		return Letterhead{}, 0, err
	}
	off += n

	if len(buf) < off+4 {
		return Letterhead{}, 0, cos.NewErrEncoding("letterhead: truncated payload_length")
	}
	payloadLen := binary.BigEndian.Uint32(buf[off:])
	off += 4

	if len(buf) < off+1 {
		return Letterhead{}, 0, cos.NewErrEncoding("letterhead: truncated namespace tag")
	}
	l := Letterhead{Sender: sender, Recipient: recipient, PayloadLength: payloadLen}
	if buf[off] == 0x01 {
		if len(buf) < off+1+id.AddressLen {
			return Letterhead{}, 0, cos.NewErrEncoding("letterhead: truncated namespace")
		}
		ns, _ := id.ParseAddress(buf[off+1 : off+1+id.AddressLen])
		l.Namespace = &ns
		off += 1 + id.AddressLen
	} else {
		off++
	}
	return l, off, nil
}

func encodeRecipientTag(buf []byte, r id.Recipient) []byte {
	buf = append(buf, byte(r.Kind))
	if r.Kind != id.RecipientBroadcast {
		buf = append(buf, r.Address[:]...)
	}
	return buf
}

func decodeRecipientTag(buf []byte) (id.Recipient, int, error) {
	if len(buf) < 1 {
		return id.Recipient{}, 0, cos.NewErrEncoding("recipient: truncated tag")
	}
	kind := id.RecipientKind(buf[0])
	if kind == id.RecipientBroadcast {
		return id.Broadcast(), 1, nil
	}
	if len(buf) < 1+id.AddressLen {
		return id.Recipient{}, 0, cos.NewErrEncoding("recipient: truncated address")
	}
	a, _ := id.ParseAddress(buf[1 : 1+id.AddressLen])
	return id.Recipient{Kind: kind, Address: a}, 1 + id.AddressLen, nil
}
