package ipc

import (
	"io"

	"github.com/irdest-go/ratman/frame"
)

// WriteMicroframeForTest and ReadMicroframeForTest expose the unexported
// wire codec to ipc_test's hand-rolled client, mirroring a real
// client's byte-for-byte view of the protocol.
func WriteMicroframeForTest(w io.Writer, h frame.MicroframeHeader, payload []byte) error {
	return writeMicroframe(w, h, payload)
}

func ReadMicroframeForTest(r io.Reader) (frame.MicroframeHeader, []byte, error) {
	return readMicroframe(r)
}

func (p ServerPing) IsIncompatibleVersionForTest() bool { return p.tag == pingIncompatibleVersion }
