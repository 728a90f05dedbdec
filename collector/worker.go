package collector

import (
	"sync"
	"time"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/nlog"
)

// worker assembles one sequence's frames, keyed and ordered by
// seq.Num. It exclusively owns its buffer; only Collector's index
// mutex is shared (spec.md §5).
type worker struct {
	seqHash   id.Ident32
	sender    id.Address
	recipient id.Recipient
	collector *Collector

	mu           sync.Mutex
	frames       map[uint32]frame.InMemoryEnvelope
	max          uint32
	haveMax      bool
	manifested   bool
	lastActivity time.Time
}

func newWorker(seqHash id.Ident32, sender id.Address, recipient id.Recipient, c *Collector) *worker {
	return &worker{
		seqHash:      seqHash,
		sender:       sender,
		recipient:    recipient,
		collector:    c,
		frames:       make(map[uint32]frame.InMemoryEnvelope),
		lastActivity: time.Now(),
	}
}

// push adds one frame to the buffer. Duplicate (seq_hash, num) frames
// are discarded; arrival order is irrelevant (spec.md §4.6
// "Idempotence"). The worker yields (releases its lock) between frames
// via the caller's natural call boundary, matching the cooperative
// scheduling spec.md §4.6 describes.
func (w *worker) push(env frame.InMemoryEnvelope) {
	seq := env.Header.SeqID

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastActivity = time.Now()
	if _, dup := w.frames[seq.Num]; dup {
		return
	}
	w.frames[seq.Num] = env
	w.max = seq.Max
	w.haveMax = true
	if frame.HasMode(env.Header.Modes, frame.ModeManifest) {
		w.manifested = true
	}

	if w.completeLocked() {
		w.finalizeLocked()
	}
}

// completeLocked reports whether frames 0..=max are all present, per
// spec.md §4.6's completion criterion.
func (w *worker) completeLocked() bool {
	if !w.haveMax {
		return false
	}
	for n := uint32(0); n <= w.max; n++ {
		if _, ok := w.frames[n]; !ok {
			return false
		}
	}
	return true
}

// finalizeLocked concatenates payload slices in seq.Num order, emits
// the completed message, and purges the sequence from the journal.
// Manifest signatures are not verified: neither the collector nor the
// IPC subscription path that receives the Message checks them.
func (w *worker) finalizeLocked() {
	total := 0
	for n := uint32(0); n <= w.max; n++ {
		total += len(w.frames[n].PayloadSlice())
	}
	payload := make([]byte, 0, total)
	for n := uint32(0); n <= w.max; n++ {
		payload = append(payload, w.frames[n].PayloadSlice()...)
	}

	msg := Message{
		SeqHash:    w.seqHash,
		Sender:     w.sender,
		Recipient:  w.recipient,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}

	w.collector.deliver(msg)
	if err := w.collector.journal.PurgeSequence(w.seqHash); err != nil {
		nlog.Warningf("collector: purge sequence %s failed: %v", w.seqHash, err)
	}
	w.collector.removeWorker(w.seqHash)
}

// evict writes the worker's partial buffer back to the journal's
// frames partition, one frame at a time (not as a single blob), so a
// later LoadPendingFor can resume assembly from where it left off.
func (w *worker) evict() {
	w.mu.Lock()
	frames := make([]frame.InMemoryEnvelope, 0, len(w.frames))
	for _, env := range w.frames {
		frames = append(frames, env)
	}
	manifested := w.manifested
	w.mu.Unlock()

	for _, env := range frames {
		if err := w.collector.journal.QueueFrame(env, manifested); err != nil {
			nlog.Warningf("collector: eviction journal write failed for %s: %v", w.seqHash, err)
		}
	}
}
