package ipc

import (
	"context"
	"io"
	"net"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/nlog"
	"github.com/irdest-go/ratman/journal"
)

// dataChunkSize is the size of one ERIS-style content block: large
// enough to keep manifests short, small enough to stay well under a
// carrier frame's uint16 payload_length ceiling.
const dataChunkSize = 1 << 14

func (s *Server) handleSend(ctx context.Context, op frame.ClientOp, payload []byte) ServerPing {
	switch op {
	case frame.OpFlood:
		return s.sendFlood(ctx, payload)
	case frame.OpOne:
		return s.sendOne(payload)
	case frame.OpMany:
		return s.sendMany(ctx, payload)
	default:
		return PingError("invalid-mode", "SEND does not support operator 0x%x", op)
	}
}

// sendFlood handles SEND/FLOOD: payload is sender_address(32) || body,
// sent as one carrier frame since floods are never manifested, per
// spec.md §4.7.
func (s *Server) sendFlood(ctx context.Context, payload []byte) ServerPing {
	if len(payload) < id.AddressLen {
		return PingError("invalid-request", "SEND/FLOOD requires a sender address prefix")
	}
	sender, _ := id.ParseAddress(payload[:id.AddressLen])
	body := payload[id.AddressLen:]
	if len(body) > 0xffff {
		return PingError("too-large", "SEND/FLOOD payload exceeds one frame; use SEND/ONE")
	}

	seq := id.SequenceId{Hash: id.RandomIdent32(), Num: 0, Max: 0}
	env := frame.NewEnvelope(frame.NewDataHeader(sender, id.Broadcast(), seq, uint16(len(body))), body)
	if err := s.sw.Flood(ctx, env); err != nil {
		return PingError("internal", "flood: %v", err)
	}
	return PingOk()
}

// sendMany handles SEND/MANY: the whole letterhead and message body
// arrive inline in one microframe (bounded by maxMicroframePayload),
// chunked here into one or more carrier data frames plus a manifest.
func (s *Server) sendMany(ctx context.Context, payload []byte) ServerPing {
	lh, n, err := DecodeLetterhead(payload)
	if err != nil {
		return PingError("invalid-request", "%v", err)
	}
	body := payload[n:]
	if uint32(len(body)) != lh.PayloadLength {
		return PingError("invalid-request", "letterhead declares %d bytes, got %d", lh.PayloadLength, len(body))
	}
	if err := s.dispatchChunks(ctx, lh, body); err != nil {
		return PingError("internal", "%v", err)
	}
	return PingOk()
}

// sendOne handles SEND/ONE's large-payload flow: the letterhead arrives
// alone, the server opens a dedicated upload socket and returns its
// address, and the actual bytes are streamed separately, per
// spec.md §4.8 ("Send flow").
func (s *Server) sendOne(payload []byte) ServerPing {
	lh, _, err := DecodeLetterhead(payload)
	if err != nil {
		return PingError("invalid-request", "%v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return PingError("internal", "bind upload socket: %v", err)
	}
	lhHash := journal.BlockReference(lh.Encode())
	go s.runUpload(s.uploadCtx, ln, lh, lhHash)
	return PingSendSocket(ln.Addr().String())
}

// runUpload reads lh.PayloadLength bytes off conn in dataChunkSize
// blocks, saving each as it arrives so a disconnect mid-upload leaves a
// resumable partial state: the client may retry by re-sending an
// identical letterhead, causing a new sendOne call to find and skip the
// blocks already saved here, per spec.md §4.8.
func (s *Server) runUpload(ctx context.Context, ln net.Listener, lh Letterhead, lhHash id.Ident32) {
	defer ln.Close()
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	existing, err := s.journal.LoadPartialBlocks(lh.Sender, lhHash)
	if err != nil {
		nlog.Warningf("ipc: resume lookup for %s failed: %v", lhHash, err)
		existing = nil
	}
	received := int64(len(existing)) * dataChunkSize
	blockIdx := uint32(len(existing))
	if received > 0 {
		nlog.Infof("ipc: resuming upload %s at byte %d of %d", lhHash, received, lh.PayloadLength)
	}

	for received < int64(lh.PayloadLength) {
		remaining := int64(lh.PayloadLength) - received
		chunkLen := int64(dataChunkSize)
		if remaining < chunkLen {
			chunkLen = remaining
		}
		buf := make([]byte, chunkLen)
		if _, err := io.ReadFull(conn, buf); err != nil {
			nlog.Warningf("ipc: upload %s disconnected at byte %d of %d, partial blocks retained", lhHash, received, lh.PayloadLength)
			return
		}
		if err := s.journal.SavePartialBlock(lh.Sender, lhHash, blockIdx, buf); err != nil {
			nlog.Errorf("ipc: save partial block for %s: %v", lhHash, err)
			return
		}
		received += chunkLen
		blockIdx++
	}

	blocks, err := s.journal.LoadPartialBlocks(lh.Sender, lhHash)
	if err != nil {
		nlog.Errorf("ipc: load completed blocks for %s: %v", lhHash, err)
		return
	}
	body := make([]byte, 0, lh.PayloadLength)
	for _, b := range blocks {
		body = append(body, b...)
	}

	if err := s.dispatchChunks(ctx, lh, body); err != nil {
		nlog.Errorf("ipc: dispatch upload %s: %v", lhHash, err)
		return
	}
	if err := s.journal.PurgePartial(lh.Sender, lhHash); err != nil {
		nlog.Warningf("ipc: purge partial blocks for %s: %v", lhHash, err)
	}
}

// dispatchChunks is the common tail of SEND/MANY and a completed
// SEND/ONE upload: it content-addresses body in dataChunkSize blocks
// (the ERIS encoding referenced in the GLOSSARY), journals each block,
// emits one carrier data frame per block, and writes the resulting
// manifest.
func (s *Server) dispatchChunks(ctx context.Context, lh Letterhead, body []byte) error {
	seqHash := id.RandomIdent32()
	max := uint32(0)
	if len(body) > 0 {
		max = uint32((len(body) - 1) / dataChunkSize)
	}

	var blockRefs []byte
	for num := uint32(0); ; num++ {
		start := int(num) * dataChunkSize
		end := start + dataChunkSize
		if end > len(body) {
			end = len(body)
		}
		chunk := body[start:end]

		ref := journal.BlockReference(chunk)
		if err := s.journal.QueueBlock(ref, chunk); err != nil {
			return err
		}
		blockRefs = append(blockRefs, ref[:]...)

		seq := id.SequenceId{Hash: seqHash, Num: num, Max: max}
		env := frame.NewEnvelope(frame.NewDataHeader(lh.Sender, lh.Recipient, seq, uint16(len(chunk))), chunk)
		if err := s.sw.SendTargeted(ctx, env, lh.Recipient); err != nil {
			return err
		}
		if num == max {
			break
		}
	}

	rec := journal.ManifestRecord{Sender: lh.Sender, Recipient: lh.Recipient.Address, Manifest: blockRefs}
	return s.journal.QueueManifest(seqHash, rec)
}
