package journal

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v3"
	"github.com/tinylib/msgp/msgp"

	"github.com/irdest-go/ratman/internal/cos"
)

// compressThreshold is the value size above which lz4 compression is
// applied before a buntdb Set, per SPEC_FULL.md §3 (pierrec/lz4/v3
// wiring). Below it, the lz4 frame overhead is not worth paying.
const compressThreshold = 256

// compress prefixes the stored value with a one-byte flag (0 = raw, 1 =
// lz4 block) followed by, for the compressed case, the original length
// so Uncompress can size its destination buffer.
func compress(raw []byte) []byte {
	if len(raw) < compressThreshold {
		out := make([]byte, 0, len(raw)+1)
		out = append(out, 0)
		return append(out, raw...)
	}
	dst := make([]byte, lz4.CompressBlockBound(len(raw)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(raw, dst, ht[:])
	if err != nil || n == 0 || n >= len(raw) {
		out := make([]byte, 0, len(raw)+1)
		out = append(out, 0)
		return append(out, raw...)
	}
	out := make([]byte, 0, n+5)
	out = append(out, 1)
	out = binary.BigEndian.AppendUint32(out, uint32(len(raw)))
	return append(out, dst[:n]...)
}

func decompress(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, cos.NewErrEncoding("journal: empty stored value")
	}
	if stored[0] == 0 {
		return stored[1:], nil
	}
	if len(stored) < 5 {
		return nil, cos.NewErrEncoding("journal: truncated compressed value")
	}
	origLen := binary.BigEndian.Uint32(stored[1:5])
	dst := make([]byte, origLen)
	n, err := lz4.UncompressBlock(stored[5:], dst)
	if err != nil {
		return nil, cos.NewErrEncoding("journal: lz4 decompress: %v", err)
	}
	return dst[:n], nil
}

// pendingRecord wraps one queued carrier frame with the metadata the GC
// pass needs to pick eviction candidates: when it was written and how
// far its sequence's assembly had progressed at that time.
type pendingRecord struct {
	Envelope  []byte
	QueuedAt  int64 // unix nanos
	FrameNum  uint32
	FrameMax  uint32
	Manifested bool
}

func (r pendingRecord) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendBytes(b, r.Envelope)
	b = msgp.AppendInt64(b, r.QueuedAt)
	b = msgp.AppendUint32(b, r.FrameNum)
	b = msgp.AppendUint32(b, r.FrameMax)
	b = msgp.AppendBool(b, r.Manifested)
	return b, nil
}

func (r *pendingRecord) UnmarshalMsg(b []byte) ([]byte, error) {
	var err error
	r.Envelope, b, err = msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return b, err
	}
	r.QueuedAt, b, err = msgp.ReadInt64Bytes(b)
	if err != nil {
		return b, err
	}
	r.FrameNum, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return b, err
	}
	r.FrameMax, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return b, err
	}
	r.Manifested, b, err = msgp.ReadBoolBytes(b)
	return b, err
}

// manifestValue is the on-disk shape of a manifests-partition record.
type manifestValue struct {
	Sender    []byte
	Recipient []byte
	Manifest  []byte
	Forwarded bool
}

func (r manifestValue) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendBytes(b, r.Sender)
	b = msgp.AppendBytes(b, r.Recipient)
	b = msgp.AppendBytes(b, r.Manifest)
	b = msgp.AppendBool(b, r.Forwarded)
	return b, nil
}

func (r *manifestValue) UnmarshalMsg(b []byte) ([]byte, error) {
	var err error
	r.Sender, b, err = msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return b, err
	}
	r.Recipient, b, err = msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return b, err
	}
	r.Manifest, b, err = msgp.ReadBytesBytes(b, nil)
	if err != nil {
		return b, err
	}
	r.Forwarded, b, err = msgp.ReadBoolBytes(b)
	return b, err
}

// routeValue is the on-disk shape of a routes-partition record.
type routeValue struct {
	ViaEndpoint   uint16
	ViaNeighbour  uint16
	HopCount      uint32
	LastSeenUnix  int64
	BandwidthEWMA float64
}

func (r routeValue) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendUint16(b, r.ViaEndpoint)
	b = msgp.AppendUint16(b, r.ViaNeighbour)
	b = msgp.AppendUint32(b, r.HopCount)
	b = msgp.AppendInt64(b, r.LastSeenUnix)
	b = msgp.AppendFloat64(b, r.BandwidthEWMA)
	return b, nil
}

func (r *routeValue) UnmarshalMsg(b []byte) ([]byte, error) {
	var err error
	r.ViaEndpoint, b, err = msgp.ReadUint16Bytes(b)
	if err != nil {
		return b, err
	}
	r.ViaNeighbour, b, err = msgp.ReadUint16Bytes(b)
	if err != nil {
		return b, err
	}
	r.HopCount, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return b, err
	}
	r.LastSeenUnix, b, err = msgp.ReadInt64Bytes(b)
	if err != nil {
		return b, err
	}
	r.BandwidthEWMA, b, err = msgp.ReadFloat64Bytes(b)
	return b, err
}
