package ipc

import (
	"encoding/binary"
	"io"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/internal/cos"
)

const (
	maxMicroframePayload = 16 << 20
	maxMicroframeHeader  = 4096
)

// writeMicroframe writes one microframe as u32 header_length ||
// header_bytes || payload_bytes, per spec.md §4.1.
func writeMicroframe(w io.Writer, h frame.MicroframeHeader, payload []byte) error {
	h.PayloadSize = uint32(len(payload))
	hdr := h.Encode()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(hdr)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return cos.NewErrNetmod(err, "ipc: write microframe header length")
	}
	if _, err := w.Write(hdr); err != nil {
		return cos.NewErrNetmod(err, "ipc: write microframe header")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return cos.NewErrNetmod(err, "ipc: write microframe payload")
	}
	return nil
}

func readMicroframe(r io.Reader) (frame.MicroframeHeader, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return frame.MicroframeHeader{}, nil, cos.NewErrNetmod(err, "ipc: read microframe header length")
	}
	hdrLen := binary.BigEndian.Uint32(lenBuf[:])
	if hdrLen == 0 || hdrLen > maxMicroframeHeader {
		return frame.MicroframeHeader{}, nil, cos.NewErrEncoding("ipc: microframe header length %d out of bounds", hdrLen)
	}
	hdrBuf := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return frame.MicroframeHeader{}, nil, cos.NewErrNetmod(err, "ipc: read microframe header")
	}
	h, err := frame.ParseMicroframeHeader(hdrBuf)
	if err != nil {
		return frame.MicroframeHeader{}, nil, err
	}
	if h.PayloadSize > maxMicroframePayload {
		return frame.MicroframeHeader{}, nil, cos.NewErrEncoding("ipc: microframe payload %d out of bounds", h.PayloadSize)
	}
	if h.PayloadSize == 0 {
		return h, nil, nil
	}
	payload := make([]byte, h.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame.MicroframeHeader{}, nil, cos.NewErrNetmod(err, "ipc: read microframe payload")
	}
	return h, payload, nil
}
