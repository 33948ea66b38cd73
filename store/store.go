// Package store provides durable, versioned storage for narration audio.
// One entry per content id, written and replaced as a single atomic unit.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"
)

// Bucket names. Audio payloads and lightweight metadata live in separate
// buckets so listings never touch the (large, compressed) payload records.
var (
	bucketAudio = []byte("AudioFiles")
	bucketMeta  = []byte("AudioMeta")
)

// Common errors for the audio store.
var (
	// ErrStorageUnavailable indicates the underlying database could not be
	// opened or accessed.
	ErrStorageUnavailable = errors.New("audio storage unavailable")
	// ErrQuotaExceeded indicates a write was rejected for lack of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrEmptySegments indicates a save was attempted with no segments.
	ErrEmptySegments = errors.New("no segments to save")
	// ErrNonContiguous indicates segment sequence indexes have gaps.
	ErrNonContiguous = errors.New("segment sequence indexes are not contiguous")
)

// AudioSegment is one unit of narration audio.
type AudioSegment struct {
	ID              string  `json:"id"`
	SequenceIndex   int     `json:"sequenceIndex"`
	SourceRef       string  `json:"sourceRef,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`
	Bytes           []byte  `json:"bytes"`

	// PlayableURL is minted at playback time and never persisted.
	PlayableURL string `json:"-"`
}

// CacheEntry is the full persisted record for one piece of content.
type CacheEntry struct {
	ContentID            string         `json:"contentId"`
	Segments             []AudioSegment `json:"segments"`
	TotalDurationSeconds float64        `json:"totalDurationSeconds"`
	SchemaVersion        int            `json:"schemaVersion"`
	CreatedAt            time.Time      `json:"createdAt"`
	SizeBytes            int64          `json:"sizeBytes"`
}

// EntryMetadata is a lightweight listing record without payload bytes.
type EntryMetadata struct {
	ContentID            string    `json:"contentId"`
	SegmentCount         int       `json:"segmentCount"`
	TotalDurationSeconds float64   `json:"totalDurationSeconds"`
	SizeBytes            int64     `json:"sizeBytes"`
	SchemaVersion        int       `json:"schemaVersion"`
	CreatedAt            time.Time `json:"createdAt"`
}

// QuotaInfo reports a best-effort estimate of available storage.
type QuotaInfo struct {
	Supported  bool  `json:"supported"`
	UsageBytes int64 `json:"usageBytes"`
	TotalBytes int64 `json:"totalBytes"`
}

// AudioStore persists one CacheEntry per content id in BoltDB. Payload
// records are zstd-compressed transparently; callers always see the
// original bytes.
type AudioStore struct {
	db  *bolt.DB
	dir string

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens (or creates) the audio store under dir.
func Open(dir string) (*AudioStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	dbPath := filepath.Join(dir, "narrate.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAudio, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	log.Debug("Audio store opened", "path", dbPath)

	return &AudioStore{db: db, dir: dir, encoder: encoder, decoder: decoder}, nil
}

// Close releases the underlying database.
func (s *AudioStore) Close() error {
	s.encoder.Close()
	return s.db.Close()
}

// Save validates and persists the segment set for contentID, replacing any
// prior entry in a single transaction. The total duration is always
// recomputed from the segment durations; the caller-supplied value is used
// only for logging a mismatch.
func (s *AudioStore) Save(contentID string, segments []AudioSegment, totalDuration float64) error {
	if len(segments) == 0 {
		return ErrEmptySegments
	}
	for i, seg := range segments {
		if seg.SequenceIndex != i {
			return fmt.Errorf("%w: index %d has sequence %d", ErrNonContiguous, i, seg.SequenceIndex)
		}
	}

	var computed float64
	var sizeBytes int64
	for _, seg := range segments {
		computed += seg.DurationSeconds
		sizeBytes += int64(len(seg.Bytes))
	}
	if totalDuration != 0 && totalDuration != computed {
		log.Debug("Ignoring caller-supplied total duration",
			"contentID", contentID, "supplied", totalDuration, "computed", computed)
	}

	entry := CacheEntry{
		ContentID:            contentID,
		Segments:             segments,
		TotalDurationSeconds: computed,
		SchemaVersion:        CurrentSchemaVersion,
		CreatedAt:            time.Now(),
		SizeBytes:            sizeBytes,
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	compressed := s.encoder.EncodeAll(raw, nil)

	meta, err := json.Marshal(metadataOf(entry))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketAudio).Put([]byte(contentID), compressed); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(contentID), meta)
	})
	if err != nil {
		return mapWriteError(err)
	}

	log.Debug("Saved audio entry",
		"contentID", contentID,
		"segments", len(segments),
		"duration", computed,
		"bytes", sizeBytes,
		"compressed", len(compressed))
	return nil
}

// Get returns the entry for contentID, or nil when absent. Entries written
// under an outdated schema are purged as a side effect and reported as
// absent; stale entries must never reach a caller. Corrupt records are
// treated the same way.
func (s *AudioStore) Get(contentID string) (*CacheEntry, error) {
	var compressed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketAudio).Get([]byte(contentID)); v != nil {
			compressed = make([]byte, len(v))
			copy(compressed, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if compressed == nil {
		return nil, nil
	}

	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		log.Warn("Purging corrupt audio entry", "contentID", contentID, "error", err)
		return nil, s.Delete(contentID)
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn("Purging undecodable audio entry", "contentID", contentID, "error", err)
		return nil, s.Delete(contentID)
	}

	if !SchemaVersionValid(entry.SchemaVersion) {
		log.Info("Purging audio entry with outdated schema",
			"contentID", contentID,
			"entryVersion", entry.SchemaVersion,
			"currentVersion", CurrentSchemaVersion)
		return nil, s.Delete(contentID)
	}

	return &entry, nil
}

// Has reports whether a valid entry exists for contentID.
func (s *AudioStore) Has(contentID string) bool {
	entry, err := s.Get(contentID)
	return err == nil && entry != nil
}

// Delete removes the entry for contentID. Deleting a missing entry is a
// no-op.
func (s *AudioStore) Delete(contentID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketAudio).Delete([]byte(contentID)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete([]byte(contentID))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// ClearAll removes every entry. Clearing an empty store is a no-op.
func (s *AudioStore) ClearAll() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAudio, bucketMeta} {
			b := tx.Bucket(bucket)
			c := b.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// AllMetadata lists every stored entry without loading payload bytes.
func (s *AudioStore) AllMetadata() ([]EntryMetadata, error) {
	var out []EntryMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(_, v []byte) error {
			var meta EntryMetadata
			if err := json.Unmarshal(v, &meta); err != nil {
				// Skip undecodable metadata; the payload purge path
				// will clean it up on the next Get.
				return nil
			}
			out = append(out, meta)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

// StorageSize returns the sum of payload sizes across all entries.
func (s *AudioStore) StorageSize() (int64, error) {
	metas, err := s.AllMetadata()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, m := range metas {
		total += m.SizeBytes
	}
	return total, nil
}

// QuotaInfo reports filesystem usage for the store directory. Platforms
// without a usable statfs report Supported=false instead of failing.
func (s *AudioStore) QuotaInfo() QuotaInfo {
	return quotaInfo(s.dir)
}

func metadataOf(entry CacheEntry) EntryMetadata {
	return EntryMetadata{
		ContentID:            entry.ContentID,
		SegmentCount:         len(entry.Segments),
		TotalDurationSeconds: entry.TotalDurationSeconds,
		SizeBytes:            entry.SizeBytes,
		SchemaVersion:        entry.SchemaVersion,
		CreatedAt:            entry.CreatedAt,
	}
}

func mapWriteError(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
