// Package router wires the router's components (C1-C8) into one
// supervised unit: route table, journal, collector, switch, TCP peering
// driver, and the local IPC server, plus the background loops that keep
// them live, per spec.md §5 ("Concurrency & Resource Model") and §9.
/*
 * Copyright (c) 2024, irdest-go authors. All rights reserved.
 */
package router

import (
	"time"

	"github.com/irdest-go/ratman/ipc"
	"github.com/irdest-go/ratman/journal"
)

// Config collects every tunable named across spec.md §5 and §9 in one
// place, with defaults mirroring ratman/src/config/default.rs per
// SPEC_FULL.md §4, following the functional-options pattern used by
// the rest of this module's constructors.
type Config struct {
	// AnnouncePeriod is how often a local address re-announces itself
	// to neighbours. AnnounceTTL (how long a received announcement is
	// trusted before expiry) defaults to 3x this.
	AnnouncePeriod time.Duration
	AnnounceTTL    time.Duration

	// AssemblyTTL bounds how long the collector holds a partially
	// reassembled message before giving up on missing frames.
	AssemblyTTL time.Duration

	Journal journal.Config
	IPC     ipc.Config

	// StateDir holds the journal's buntdb file. Empty means in-memory,
	// used by tests and ephemeral instances.
	StateDir string

	// IPCNetwork/IPCAddr bind the local client server, defaulting to
	// TCP localhost:9020 per spec.md §6.
	IPCNetwork string
	IPCAddr    string

	// SigningKey authenticates IPC client sessions (see ipc.AuthManager).
	// A production router persists this across restarts; a freshly
	// generated key invalidates any session a client tries to resume.
	SigningKey []byte
}

type Option func(*Config)

func WithAnnouncePeriod(d time.Duration) Option { return func(c *Config) { c.AnnouncePeriod = d } }
func WithAnnounceTTL(d time.Duration) Option    { return func(c *Config) { c.AnnounceTTL = d } }
func WithStateDir(dir string) Option            { return func(c *Config) { c.StateDir = dir } }
func WithIPCBind(network, addr string) Option {
	return func(c *Config) { c.IPCNetwork, c.IPCAddr = network, addr }
}
func WithSigningKey(key []byte) Option { return func(c *Config) { c.SigningKey = key } }

func DefaultConfig() Config {
	const announcePeriod = 60 * time.Second
	return Config{
		AnnouncePeriod: announcePeriod,
		AnnounceTTL:    3 * announcePeriod,
		AssemblyTTL:    60 * time.Second,
		Journal:        journal.DefaultConfig(),
		IPC:            ipc.DefaultConfig(),
		IPCNetwork:     "tcp",
		IPCAddr:        "127.0.0.1:9020",
	}
}

func New(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
