package frame_test

import (
	"bytes"
	"testing"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
)

func roundtrip(t *testing.T, h frame.CarrierFrameHeader) frame.CarrierFrameHeader {
	t.Helper()
	buf := h.Encode(nil)
	if len(buf) != h.Size() {
		t.Fatalf("Size() = %d, Encode produced %d bytes", h.Size(), len(buf))
	}
	got, n, err := frame.ParseCarrierHeader(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d of %d bytes", n, len(buf))
	}
	return got
}

func TestCarrierHeaderRoundtripAnnounce(t *testing.T) {
	sender := id.RandomAddress()
	h := frame.NewAnnounceHeader(sender, 12)
	got := roundtrip(t, h)

	if got.Sender != sender || got.Modes != frame.ModeAnnounce || got.PayloadLength != 12 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.SeqID == nil || got.SeqID.Hash != h.SeqID.Hash {
		t.Fatalf("seq id lost in roundtrip")
	}
	if got.Recipient != nil {
		t.Fatalf("announce frame should have nil recipient, got %+v", got.Recipient)
	}
}

func TestCarrierHeaderRoundtripData(t *testing.T) {
	sender := id.RandomAddress()
	recipient := id.Target(id.RandomAddress())
	seq := id.SequenceId{Hash: id.RandomIdent32(), Num: 2, Max: 5}
	h := frame.NewDataHeader(sender, recipient, seq, 64)

	var aux [64]byte
	copy(aux[:], []byte("timestamp-or-signature-placeholder"))
	h.AuxiliaryData = &aux

	got := roundtrip(t, h)
	if got.Recipient == nil || got.Recipient.Kind != id.RecipientTarget || got.Recipient.Address != recipient.Address {
		t.Fatalf("recipient mismatch: %+v", got.Recipient)
	}
	if got.SeqID == nil || *got.SeqID != seq {
		t.Fatalf("seq id mismatch: %+v", got.SeqID)
	}
	if got.AuxiliaryData == nil || *got.AuxiliaryData != aux {
		t.Fatalf("auxiliary data mismatch")
	}
	if got.SignatureData != nil {
		t.Fatalf("signature data should remain nil")
	}
}

func TestCarrierHeaderRoundtripBroadcast(t *testing.T) {
	sender := id.RandomAddress()
	recipient := id.Broadcast()
	seq := id.SequenceId{Hash: id.RandomIdent32(), Num: 0, Max: 0}
	h := frame.NewDataHeader(sender, recipient, seq, 0)

	got := roundtrip(t, h)
	if got.Recipient == nil || got.Recipient.Kind != id.RecipientBroadcast {
		t.Fatalf("expected broadcast recipient, got %+v", got.Recipient)
	}
}

func TestCarrierHeaderInvalidVersion(t *testing.T) {
	buf := []byte{7, 0, 0}
	if _, _, err := frame.ParseCarrierHeader(buf); err == nil {
		t.Fatalf("expected InvalidVersion error")
	}
}

func TestEnvelopeRoundtrip(t *testing.T) {
	sender := id.RandomAddress()
	h := frame.NewAnnounceHeader(sender, 0)
	payload := []byte{1, 3, 1, 2}
	env := frame.NewEnvelope(h, payload)

	if len(env.Buffer) != env.Header.Size()+len(payload) {
		t.Fatalf("invariant violated: buffer len %d, header size %d, payload %d",
			len(env.Buffer), env.Header.Size(), len(payload))
	}

	parsed, err := frame.ParseEnvelope(env.Buffer)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if !bytes.Equal(parsed.PayloadSlice(), payload) {
		t.Fatalf("payload mismatch: got %v want %v", parsed.PayloadSlice(), payload)
	}
}

func TestUnknownModeBitsPreserved(t *testing.T) {
	sender := id.RandomAddress()
	h := frame.NewPeeringHeader(frame.ModeData|1<<15, sender, 0)
	got := roundtrip(t, h)
	if got.Modes != h.Modes {
		t.Fatalf("unknown mode bits not preserved: got %016b want %016b", got.Modes, h.Modes)
	}
}
