// Package journal is the router's durable on-disk store (C5): seen-frame
// IDs, pending carrier frames, assembled ERIS blocks, stream manifests
// and route metadata, per spec.md §3/§4.5. It is backed by an embedded
// buntdb keyspace, one logical partition per key prefix, with an
// in-memory cuckoo filter guarding the hot `is_unknown` path and
// msgp/lz4 encoding of values above a size threshold.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package journal

import (
	"fmt"
	"sync"
	"time"

	"github.com/seiflotfy/cuckoofilter"
	"github.com/tidwall/buntdb"

	"github.com/irdest-go/ratman/internal/cos"
	"github.com/irdest-go/ratman/internal/nlog"
)

const schemaVersion = 1

// Config bounds GC and TTL behaviour; defaults mirror
// ratman/src/config/default.rs per SPEC_FULL.md §4.
type Config struct {
	GCInterval        time.Duration
	QuotaHighBytes    int64
	QuotaLowBytes     int64
	DelayToleranceTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		GCInterval:        30 * time.Second,
		QuotaHighBytes:    256 << 20,
		QuotaLowBytes:     192 << 20,
		DelayToleranceTTL: 7 * 24 * time.Hour,
	}
}

// Store is the journal's handle: one per Router instance, one buntdb
// file per state directory.
type Store struct {
	cfg Config
	db  *buntdb.DB

	seenMu sync.Mutex
	seen   *cuckoo.Filter
}

// Open opens (or creates) the journal at path. An incompatible schema
// version in the `meta` partition aborts startup with a *cos.ErrFatal
// rather than silently migrating, per spec.md §6.
func Open(path string, cfg Config) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cos.NewErrFatal("journal: open %s: %v", path, err)
	}
	s := &Store{cfg: cfg, db: db, seen: cuckoo.NewFilter(1 << 20)}
	if err := s.checkOrWriteSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.warmSeenFilter(); err != nil {
		nlog.Warningf("journal: seen-filter warm-up incomplete: %v", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory journal, used by tests and by
// short-lived simulations that do not need durability across restarts.
func OpenMemory(cfg Config) (*Store, error) {
	return Open(":memory:", cfg)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) checkOrWriteSchema() error {
	var existing string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(keyMeta)
		if err != nil {
			return err
		}
		existing = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return s.db.Update(func(tx *buntdb.Tx) error {
			_, _, err := tx.Set(keyMeta, fmt.Sprintf("%d", schemaVersion), nil)
			return err
		})
	}
	if err != nil {
		return cos.NewErrFatal("journal: reading schema version: %v", err)
	}
	if existing != fmt.Sprintf("%d", schemaVersion) {
		return cos.NewErrFatal("journal: incompatible schema version %q, expected %d", existing, schemaVersion)
	}
	return nil
}

func (s *Store) warmSeenFilter() error {
	return s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixSeen+"*", func(key, _ string) bool {
			s.seen.InsertUnique([]byte(key))
			return true
		})
	})
}

const keyMeta = "meta:schema"
