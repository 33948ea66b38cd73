package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *AudioStore {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSegments(n int) []AudioSegment {
	segs := make([]AudioSegment, n)
	for i := range segs {
		segs[i] = AudioSegment{
			ID:              string(rune('a' + i)),
			SequenceIndex:   i,
			SourceRef:       "para-" + string(rune('0'+i)),
			DurationSeconds: float64(i + 3),
			Bytes:           []byte{byte(i), 0xAA, byte(i * 7), 0x00, byte(i + 1), 0xFF},
		}
	}
	return segs
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	segs := testSegments(3)

	if err := s.Save("article-1", segs, 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	entry, err := s.Get("article-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry, got nil")
	}

	if len(entry.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(entry.Segments))
	}
	for i, seg := range entry.Segments {
		if string(seg.Bytes) != string(segs[i].Bytes) {
			t.Errorf("segment %d bytes mismatch after round trip", i)
		}
		if seg.SequenceIndex != i {
			t.Errorf("segment %d sequence = %d", i, seg.SequenceIndex)
		}
	}
	if entry.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("schema version = %d, want %d", entry.SchemaVersion, CurrentSchemaVersion)
	}
}

func TestSaveRecomputesTotalDuration(t *testing.T) {
	s := openTestStore(t)
	segs := testSegments(3) // durations 3 + 4 + 5

	// The caller-supplied total is deliberately wrong.
	if err := s.Save("article-1", segs, 999); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	entry, err := s.Get("article-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if entry.TotalDurationSeconds != 12 {
		t.Errorf("total duration = %v, want 12 (recomputed from segments)", entry.TotalDurationSeconds)
	}
}

func TestSaveRejectsEmptyAndNonContiguous(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("a", nil, 0); !errors.Is(err, ErrEmptySegments) {
		t.Errorf("empty save: got %v, want ErrEmptySegments", err)
	}

	segs := testSegments(3)
	segs[1].SequenceIndex = 5
	if err := s.Save("a", segs, 0); !errors.Is(err, ErrNonContiguous) {
		t.Errorf("gapped save: got %v, want ErrNonContiguous", err)
	}
	if s.Has("a") {
		t.Error("rejected save left an entry behind")
	}
}

func TestSaveReplacesExistingEntry(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("article-1", testSegments(3), 0); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := s.Save("article-1", testSegments(1), 0); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	entry, err := s.Get("article-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(entry.Segments) != 1 {
		t.Errorf("expected replacement entry with 1 segment, got %d", len(entry.Segments))
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)

	entry, err := s.Get("nope")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil for missing entry, got %+v", entry)
	}
}

func TestOutdatedSchemaEntryIsPurged(t *testing.T) {
	s := openTestStore(t)

	// Plant an entry written under a retired schema version directly in the
	// buckets, bypassing Save.
	stale := CacheEntry{
		ContentID:            "old",
		Segments:             testSegments(1),
		TotalDurationSeconds: 3,
		SchemaVersion:        2,
		CreatedAt:            time.Now(),
	}
	raw, err := json.Marshal(stale)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	compressed := s.encoder.EncodeAll(raw, nil)
	meta, _ := json.Marshal(metadataOf(stale))
	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketAudio).Put([]byte("old"), compressed); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte("old"), meta)
	})
	if err != nil {
		t.Fatalf("failed to plant stale entry: %v", err)
	}

	entry, err := s.Get("old")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if entry != nil {
		t.Fatal("stale-schema entry reached the caller")
	}

	// The purge must be durable, not just hidden from this read.
	var remaining []byte
	s.db.View(func(tx *bolt.Tx) error {
		remaining = tx.Bucket(bucketAudio).Get([]byte("old"))
		return nil
	})
	if remaining != nil {
		t.Error("stale entry still present in the bucket after Get")
	}
}

func TestCorruptEntryIsPurged(t *testing.T) {
	s := openTestStore(t)

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAudio).Put([]byte("bad"), []byte("not zstd"))
	})
	if err != nil {
		t.Fatalf("failed to plant corrupt entry: %v", err)
	}

	entry, err := s.Get("bad")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if entry != nil {
		t.Fatal("corrupt entry reached the caller")
	}
	if s.Has("bad") {
		t.Error("corrupt entry still visible after purge")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("article-1", testSegments(2), 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.Delete("article-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := s.Delete("article-1"); err != nil {
		t.Errorf("repeated delete failed: %v", err)
	}
	if err := s.Delete("never-existed"); err != nil {
		t.Errorf("delete of missing entry failed: %v", err)
	}
	if s.Has("article-1") {
		t.Error("entry still present after delete")
	}
}

func TestClearAll(t *testing.T) {
	s := openTestStore(t)

	if err := s.ClearAll(); err != nil {
		t.Fatalf("clear of empty store failed: %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Save(id, testSegments(1), 0); err != nil {
			t.Fatalf("save %s failed: %v", id, err)
		}
	}
	if err := s.ClearAll(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	metas, err := s.AllMetadata()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(metas) != 0 {
		t.Errorf("expected empty store, found %d entries", len(metas))
	}
}

func TestAllMetadataAndStorageSize(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("a", testSegments(2), 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.Save("b", testSegments(3), 0); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	metas, err := s.AllMetadata()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected 2 metadata records, got %d", len(metas))
	}
	for _, m := range metas {
		if m.SizeBytes == 0 {
			t.Errorf("metadata for %s has zero size", m.ContentID)
		}
		if m.SegmentCount == 0 {
			t.Errorf("metadata for %s has zero segment count", m.ContentID)
		}
	}

	size, err := s.StorageSize()
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	var want int64
	for _, m := range metas {
		want += m.SizeBytes
	}
	if size != want {
		t.Errorf("storage size = %d, want %d", size, want)
	}
}

func TestSchemaVersionValid(t *testing.T) {
	tests := []struct {
		version int
		want    bool
	}{
		{1, false},
		{2, false},
		{CurrentSchemaVersion, true},
		{CurrentSchemaVersion + 1, true},
		{0, false},
	}
	for _, tt := range tests {
		if got := SchemaVersionValid(tt.version); got != tt.want {
			t.Errorf("SchemaVersionValid(%d) = %v, want %v", tt.version, got, tt.want)
		}
	}
}
