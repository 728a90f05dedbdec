// Package xswitch implements the central dispatcher (C7): for each
// incoming frame it classifies the frame as an announcement, a local
// delivery, a forward, or something to journal for later, per
// spec.md §4.7. (Named "xswitch" rather than "switch" only because the
// latter is a reserved Go keyword and cannot name a package.)
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package xswitch

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
)

// FrameID computes the loop-suppression identity of a frame as
// hash(header_bytes ∥ payload_bytes), per spec.md §4.7 step 1. It uses
// the teacher's xxhash library for this hot-path, non-cryptographic
// hash (distinct from the blake2b content-addressing used for ERIS
// block references in the journal).
func FrameID(env frame.InMemoryEnvelope) id.Ident32 {
	sum := xxhash.Checksum64(env.Buffer)
	var out id.Ident32
	binary.BigEndian.PutUint64(out[:8], sum)
	// A second pass over the first hash followed by the buffer fills
	// bytes 8-15, widening the identifier to 128 bits without pulling in
	// a second hash primitive; bytes 16-31 stay zero.
	sum2 := xxhash.ChecksumString64(string(out[:8]) + string(env.Buffer))
	binary.BigEndian.PutUint64(out[8:16], sum2)
	return out
}
