package frame_test

import (
	"testing"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
)

func TestMicroframeHeaderRoundtrip(t *testing.T) {
	auth := &id.ClientAuth{ClientID: id.RandomIdent32(), Token: id.RandomIdent32()}
	h := frame.MicroframeHeader{
		Modes:       frame.MakeClientMode(frame.NsAddr, frame.OpCreate),
		Auth:        auth,
		PayloadSize: 42,
	}
	buf := h.Encode()
	got, err := frame.ParseMicroframeHeader(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Modes != h.Modes || got.PayloadSize != h.PayloadSize {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.Auth == nil || *got.Auth != *auth {
		t.Fatalf("auth lost in roundtrip")
	}
}

func TestMicroframeHeaderNoAuth(t *testing.T) {
	h := frame.IntrinsicHeader(nil)
	buf := h.Encode()
	got, err := frame.ParseMicroframeHeader(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Auth != nil {
		t.Fatalf("expected nil auth")
	}
}

func TestClientModeValidation(t *testing.T) {
	ok := frame.MakeClientMode(frame.NsAddr, frame.OpList)
	if err := frame.ValidateClientMode(ok); err != nil {
		t.Fatalf("expected valid mode: %v", err)
	}
	bad := frame.MakeClientMode(frame.NsAddr, 0x7f)
	if err := frame.ValidateClientMode(bad); err == nil {
		t.Fatalf("expected invalid mode error")
	}
}

func TestMakeClientModeBits(t *testing.T) {
	if got := frame.MakeClientMode(frame.NsAddr, frame.OpCreate); got != 0x0101 {
		t.Fatalf("MakeClientMode(ADDR, CREATE) = %#x, want 0x0101", got)
	}
}
