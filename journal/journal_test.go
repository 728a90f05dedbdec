package journal_test

import (
	"testing"
	"time"

	"github.com/irdest-go/ratman/frame"
	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/journal"
)

func openTest(t *testing.T) *journal.Store {
	t.Helper()
	s, err := journal.OpenMemory(journal.DefaultConfig())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIsUnknownIdempotentSaveAsKnown(t *testing.T) {
	s := openTest(t)
	fid := id.RandomIdent32()

	if !s.IsUnknown(fid) {
		t.Fatalf("fresh frame id should be unknown")
	}
	if err := s.SaveAsKnown(fid); err != nil {
		t.Fatalf("save: %v", err)
	}
	if s.IsUnknown(fid) {
		t.Fatalf("frame id should be known after save")
	}
	if err := s.SaveAsKnown(fid); err != nil {
		t.Fatalf("second save should be a no-op: %v", err)
	}
	if s.IsUnknown(fid) {
		t.Fatalf("still should be known after a duplicate save")
	}
}

func TestQueueAndLoadPendingFrames(t *testing.T) {
	s := openTest(t)
	sender := id.RandomAddress()
	seqHash := id.RandomIdent32()

	for num := uint32(0); num <= 2; num++ {
		seq := id.SequenceId{Hash: seqHash, Num: num, Max: 2}
		env := frame.NewEnvelope(frame.NewDataHeader(sender, id.Target(id.RandomAddress()), seq, 1), []byte{byte(num)})
		if err := s.QueueFrame(env, false); err != nil {
			t.Fatalf("queue frame %d: %v", num, err)
		}
	}

	loaded, err := s.LoadPendingFor(seqHash)
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("expected 3 pending frames, got %d", len(loaded))
	}
	for i, env := range loaded {
		if env.Header.SeqID.Num != uint32(i) {
			t.Fatalf("frames out of order at %d: got num %d", i, env.Header.SeqID.Num)
		}
	}

	if err := s.PurgeSequence(seqHash); err != nil {
		t.Fatalf("purge: %v", err)
	}
	remaining, err := s.LoadPendingFor(seqHash)
	if err != nil {
		t.Fatalf("load after purge: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no frames after purge, got %d", len(remaining))
	}
}

func TestQueueAndLoadBlock(t *testing.T) {
	s := openTest(t)
	data := []byte("some eris block content, repeated ")
	for i := 0; i < 20; i++ {
		data = append(data, data...)
	}
	ref := journal.BlockReference(data)
	if err := s.QueueBlock(ref, data); err != nil {
		t.Fatalf("queue block: %v", err)
	}
	got, ok, err := s.LoadBlock(ref)
	if err != nil || !ok {
		t.Fatalf("load block: ok=%v err=%v", ok, err)
	}
	if string(got) != string(data) {
		t.Fatalf("block content mismatch after compress round-trip")
	}
}

func TestManifestForwardedFlag(t *testing.T) {
	s := openTest(t)
	seqHash := id.RandomIdent32()
	rec := journal.ManifestRecord{Sender: id.RandomAddress(), Recipient: id.RandomAddress(), Manifest: []byte{1, 2, 3}}
	if err := s.QueueManifest(seqHash, rec); err != nil {
		t.Fatalf("queue manifest: %v", err)
	}
	loaded, ok, err := s.LoadManifest(seqHash)
	if err != nil || !ok || loaded.Forwarded {
		t.Fatalf("unexpected manifest state: %+v ok=%v err=%v", loaded, ok, err)
	}
	if err := s.MarkForwarded(seqHash); err != nil {
		t.Fatalf("mark forwarded: %v", err)
	}
	loaded, _, _ = s.LoadManifest(seqHash)
	if !loaded.Forwarded {
		t.Fatalf("expected forwarded flag to be set")
	}
}

func TestPartialUploadResume(t *testing.T) {
	s := openTest(t)
	sender := id.RandomAddress()
	lh := id.RandomIdent32()

	if err := s.SavePartialBlock(sender, lh, 0, []byte("a")); err != nil {
		t.Fatalf("save block 0: %v", err)
	}
	if err := s.SavePartialBlock(sender, lh, 1, []byte("b")); err != nil {
		t.Fatalf("save block 1: %v", err)
	}
	blocks, err := s.LoadPartialBlocks(sender, lh)
	if err != nil {
		t.Fatalf("load partial: %v", err)
	}
	if len(blocks) != 2 || string(blocks[0]) != "a" || string(blocks[1]) != "b" {
		t.Fatalf("unexpected partial blocks: %v", blocks)
	}
	if err := s.PurgePartial(sender, lh); err != nil {
		t.Fatalf("purge partial: %v", err)
	}
	blocks, _ = s.LoadPartialBlocks(sender, lh)
	if len(blocks) != 0 {
		t.Fatalf("expected no blocks after purge, got %d", len(blocks))
	}
}

func TestReopenSamePathSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/journal.db"

	s1, err := journal.Open(path, journal.DefaultConfig())
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	fid := id.RandomIdent32()
	if err := s1.SaveAsKnown(fid); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := journal.Open(path, journal.DefaultConfig())
	if err != nil {
		t.Fatalf("reopen should succeed against its own schema version: %v", err)
	}
	defer s2.Close()
	if s2.IsUnknown(fid) {
		t.Fatalf("reopened journal lost a previously saved frame id")
	}
}

func TestGCPreservesManifestedStreamsWithinTTL(t *testing.T) {
	cfg := journal.DefaultConfig()
	cfg.QuotaHighBytes = 1
	cfg.QuotaLowBytes = 0
	cfg.DelayToleranceTTL = time.Hour
	s, err := journal.OpenMemory(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	sender := id.RandomAddress()
	seqHash := id.RandomIdent32()
	seq := id.SequenceId{Hash: seqHash, Num: 0, Max: 5}
	env := frame.NewEnvelope(frame.NewDataHeader(sender, id.Target(id.RandomAddress()), seq, 1), []byte{7})
	if err := s.QueueFrame(env, true /* manifested */); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.QueueManifest(seqHash, journal.ManifestRecord{Sender: sender}); err != nil {
		t.Fatalf("queue manifest: %v", err)
	}

	if err := s.RunGC(); err != nil {
		t.Fatalf("gc: %v", err)
	}
	loaded, err := s.LoadPendingFor(seqHash)
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected manifested frame to survive gc under quota pressure, got %d frames", len(loaded))
	}
}
