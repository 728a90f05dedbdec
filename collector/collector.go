// Package collector assembles sequenced carrier frames into complete
// messages (C6), deduplicating by (seq_hash, num) and handing completed
// messages to local delivery, per spec.md §4.6.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package collector

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
	"github.com/irdest-go/ratman/internal/nlog"
)

// Message is a fully assembled, deduplicated logical message, ready for
// local delivery to the IPC subscription path.
type Message struct {
	SeqHash    id.Ident32
	Sender     id.Address
	Recipient  id.Recipient
	Payload    []byte
	ReceivedAt time.Time
}

// Journal is the durable-storage contract the collector needs:
// purging a completed sequence and journaling an evicted worker's
// partial buffer frame-by-frame. Implemented by journal.Store.
type Journal interface {
	QueueFrame(env frame.InMemoryEnvelope, manifested bool) error
	PurgeSequence(seqHash id.Ident32) error
}

// Collector owns the seq_hash -> worker index and the channel completed
// messages are delivered on. Per spec.md §5, the index itself is
// guarded by a mutex; each worker exclusively owns its own frame
// buffer.
type Collector struct {
	journal Journal
	out     chan<- Message

	assemblyTTL       time.Duration
	delayToleranceTTL time.Duration

	idxMu sync.RWMutex
	index map[id.Ident32]*worker

	sf singleflight.Group
}

func New(j Journal, out chan<- Message, assemblyTTL, delayToleranceTTL time.Duration) *Collector {
	return &Collector{
		journal:           j,
		out:               out,
		assemblyTTL:       assemblyTTL,
		delayToleranceTTL: delayToleranceTTL,
		index:             make(map[id.Ident32]*worker),
	}
}

// Enqueue hands one carrier frame to the worker for its sequence,
// spawning the worker on first sight of a seq_hash. At most one worker
// ever exists per seq_hash: singleflight.Group.Do dedupes
// concurrent creation attempts down to a single winner, matching
// spec.md §4.6 ("at most one worker per seq_hash — enforced by a
// seq_hash → worker index behind a mutex").
func (c *Collector) Enqueue(env frame.InMemoryEnvelope, recipient id.Recipient) error {
	seq := env.Header.SeqID
	if seq == nil {
		return cos.NewErrEncoding("collector: frame has no sequence id")
	}
	w := c.getOrCreateWorker(seq.Hash, env.Header.Sender, recipient)
	w.push(env)
	return nil
}

func (c *Collector) getOrCreateWorker(seqHash id.Ident32, sender id.Address, recipient id.Recipient) *worker {
	c.idxMu.RLock()
	if w, ok := c.index[seqHash]; ok {
		c.idxMu.RUnlock()
		return w
	}
	c.idxMu.RUnlock()

	v, _, _ := c.sf.Do(seqHash.String(), func() (any, error) {
		c.idxMu.Lock()
		defer c.idxMu.Unlock()
		if w, ok := c.index[seqHash]; ok {
			return w, nil
		}
		w := newWorker(seqHash, sender, recipient, c)
		c.index[seqHash] = w
		return w, nil
	})
	return v.(*worker)
}

func (c *Collector) removeWorker(seqHash id.Ident32) {
	c.idxMu.Lock()
	delete(c.index, seqHash)
	c.idxMu.Unlock()
}

func (c *Collector) deliver(msg Message) {
	select {
	case c.out <- msg:
	default:
		nlog.Warningf("collector: delivery queue full, dropping message for sequence %s", msg.SeqHash)
	}
}

// RunEvictionLoop periodically evicts workers that have not received a
// new frame within their TTL (assemblyTTL, or delayToleranceTTL for
// manifested streams), journaling their partial buffer frame-by-frame
// before dropping them from the index, per spec.md §4.6 and the
// refinement in SPEC_FULL.md §4
// (ratman/src/core/collector/{state,worker}.rs).
func (c *Collector) RunEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evictIdle()
		}
	}
}

func (c *Collector) evictIdle() {
	now := time.Now()
	c.idxMu.RLock()
	var stale []*worker
	for _, w := range c.index {
		w.mu.Lock()
		ttl := c.assemblyTTL
		if w.manifested {
			ttl = c.delayToleranceTTL
		}
		idle := now.Sub(w.lastActivity) > ttl
		w.mu.Unlock()
		if idle {
			stale = append(stale, w)
		}
	}
	c.idxMu.RUnlock()

	for _, w := range stale {
		w.evict()
		c.removeWorker(w.seqHash)
	}
}
