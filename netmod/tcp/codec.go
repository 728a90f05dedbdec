package tcp

import (
	"encoding/binary"
	"io"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/internal/cos"
)

// maxEnvelopeSize bounds a single carrier envelope read from the wire,
// guarding against a malicious or corrupt length prefix forcing an
// unbounded allocation.
const maxEnvelopeSize = 16 << 20

// writeEnvelope frames env with a u32 big-endian length prefix, the same
// length-prefixing convention the local IPC microframe transport uses
// (frame.MicroframeHeader), so the two transports share one mental
// model even though their payloads differ.
func writeEnvelope(w io.Writer, env frame.InMemoryEnvelope) (int, error) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(env.Buffer)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return 0, cos.NewErrNetmod(err, "write envelope length")
	}
	n, err := w.Write(env.Buffer)
	if err != nil {
		return n, cos.NewErrNetmod(err, "write envelope body")
	}
	return n + 4, nil
}

// readEnvelope blocks until one full carrier envelope has been read from
// r. It returns endpoint.ErrNoData-compatible semantics by wrapping
// io.EOF and transient read errors into *cos.ErrNetmod so callers can
// apply the retry-then-give-up policy uniformly.
func readEnvelope(r io.Reader) (frame.InMemoryEnvelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return frame.InMemoryEnvelope{}, cos.NewErrNetmod(err, "read envelope length")
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size == 0 || size > maxEnvelopeSize {
		return frame.InMemoryEnvelope{}, cos.NewErrEncoding("envelope length %d out of bounds", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return frame.InMemoryEnvelope{}, cos.NewErrNetmod(err, "read envelope body")
	}
	return frame.ParseEnvelope(buf)
}
