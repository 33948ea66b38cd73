package player

import (
	"errors"
	"testing"

	"github.com/narratekit/narrate/blob"
	"github.com/narratekit/narrate/highlight"
	"github.com/narratekit/narrate/store"
)

// fixture wires a controller to a mock element over a real temp-dir store.
type fixture struct {
	controller *Controller
	element    *MockElement
	blobs      *blob.Registry
	store      *store.AudioStore
	sync       *highlight.Sync
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		element: NewMockElement(),
		blobs:   blob.NewRegistry(),
		store:   s,
		sync:    highlight.New(),
	}
	f.controller = NewController(f.element, f.blobs, f.store, f.sync)
	return f
}

// saveContent persists an entry whose segment durations are the given
// values, so the timeline total is their sum.
func (f *fixture) saveContent(t *testing.T, contentID string, durations ...float64) {
	t.Helper()
	segs := make([]store.AudioSegment, len(durations))
	for i, d := range durations {
		segs[i] = store.AudioSegment{
			ID:              contentID + "-seg-" + string(rune('0'+i)),
			SequenceIndex:   i,
			SourceRef:       "para-" + string(rune('0'+i)),
			DurationSeconds: d,
			Bytes:           []byte{byte(i), 0x01, 0x02, 0x03},
		}
	}
	if err := f.store.Save(contentID, segs, 0); err != nil {
		t.Fatalf("failed to save content: %v", err)
	}
}

// startPlaying loads the content and drives it into StatePlaying on
// segment 0.
func (f *fixture) startPlaying(t *testing.T, contentID string, firstDuration float64) {
	t.Helper()
	if err := f.controller.Load(contentID); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := f.controller.Play(); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	f.element.FireLoadedMetadata(firstDuration)
	if got := f.controller.State(); got != StatePlaying {
		t.Fatalf("expected playing after metadata, got %s", got)
	}
}

func TestLoadMissingContent(t *testing.T) {
	f := newFixture(t)

	err := f.controller.Load("nope")
	if !errors.Is(err, ErrNoAudio) {
		t.Errorf("load of missing content: got %v, want ErrNoAudio", err)
	}
}

func TestPlayWithoutContent(t *testing.T) {
	f := newFixture(t)

	if err := f.controller.Play(); !errors.Is(err, ErrNoContent) {
		t.Errorf("play without load: got %v, want ErrNoContent", err)
	}
	if err := f.controller.Seek(1); !errors.Is(err, ErrNoContent) {
		t.Errorf("seek without load: got %v, want ErrNoContent", err)
	}
}

func TestPlayFromIdle(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4, 5)

	if err := f.controller.Load("article-1"); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := f.controller.Play(); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if got := f.controller.State(); got != StateLoadingMetadata {
		t.Fatalf("expected loading-metadata before metadata arrives, got %s", got)
	}
	if f.element.Source() == "" {
		t.Fatal("play assigned no source")
	}

	f.element.FireLoadedMetadata(3)

	if got := f.controller.State(); got != StatePlaying {
		t.Errorf("expected playing, got %s", got)
	}
	if !f.element.IsPlaying() {
		t.Error("element was not told to play")
	}
	if key := f.sync.Active(); key == nil || *key != "article-1-seg-0" {
		t.Errorf("expected highlight on first segment, got %v", key)
	}
}

func TestCumulativePosition(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4, 5)
	f.startPlaying(t, "article-1", 3)

	// Finish segment 0, land in segment 1 at a local offset of 2.0s. The
	// reported position must be 3.0 (completed) + 2.0 (local) = 5.0.
	f.element.FireEnded()
	f.element.FireLoadedMetadata(4)
	f.element.FireTimeUpdate(2.0)

	if got := f.controller.Position(); got != 5.0 {
		t.Errorf("position = %v, want 5.0", got)
	}
	if got := f.controller.Duration(); got != 12.0 {
		t.Errorf("duration = %v, want 12.0", got)
	}
}

func TestSegmentTransitionStaysLogicallyPlaying(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4)
	f.startPlaying(t, "article-1", 3)

	f.element.FireEnded()

	snap := f.controller.Snapshot()
	if snap.State != StateSegmentTransition {
		t.Fatalf("expected segment-transition, got %s", snap.State)
	}
	if !snap.IsPlaying {
		t.Error("segment transition must still report playing")
	}
	if snap.CurrentSegmentIndex != 1 {
		t.Errorf("current segment = %d, want 1", snap.CurrentSegmentIndex)
	}

	f.element.FireLoadedMetadata(4)
	if got := f.controller.State(); got != StatePlaying {
		t.Errorf("expected playing after next metadata, got %s", got)
	}
	if key := f.sync.Active(); key == nil || *key != "article-1-seg-1" {
		t.Errorf("expected highlight on second segment, got %v", key)
	}
}

func TestSeekAcrossSegments(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4, 5)
	f.startPlaying(t, "article-1", 3)

	// Global 9.5s lands in segment 2 (3 + 4 completed) at local 2.5s.
	if err := f.controller.Seek(9.5); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if got := f.controller.State(); got != StateSegmentTransition {
		t.Fatalf("expected segment-transition during cross-segment seek, got %s", got)
	}

	f.element.FireLoadedMetadata(5)

	seeks := f.element.Seeks()
	if len(seeks) != 1 || seeks[0] != 2.5 {
		t.Errorf("element seeks = %v, want [2.5]", seeks)
	}
	snap := f.controller.Snapshot()
	if snap.CurrentSegmentIndex != 2 {
		t.Errorf("current segment = %d, want 2", snap.CurrentSegmentIndex)
	}
	if snap.State != StatePlaying {
		t.Errorf("expected playing after seek lands, got %s", snap.State)
	}

	// The parked offset is consumed exactly once: a later metadata event
	// must not replay it.
	f.element.FireLoadedMetadata(5)
	if got := f.element.Seeks(); len(got) != 1 {
		t.Errorf("pending seek applied again: %v", got)
	}
}

func TestSeekWithinSegment(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4, 5)
	f.startPlaying(t, "article-1", 3)

	sources := len(f.element.Sources())
	if err := f.controller.Seek(1.5); err != nil {
		t.Fatalf("seek failed: %v", err)
	}

	if got := f.element.Seeks(); len(got) != 1 || got[0] != 1.5 {
		t.Errorf("element seeks = %v, want [1.5]", got)
	}
	if len(f.element.Sources()) != sources {
		t.Error("same-segment seek reassigned the source")
	}
	if got := f.controller.State(); got != StatePlaying {
		t.Errorf("same-segment seek changed state to %s", got)
	}
}

func TestSeekClamping(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4, 5)
	f.startPlaying(t, "article-1", 3)

	// Far past the end: land on the final segment at its own duration.
	if err := f.controller.Seek(999); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	f.element.FireLoadedMetadata(5)
	snap := f.controller.Snapshot()
	if snap.CurrentSegmentIndex != 2 {
		t.Errorf("over-end seek segment = %d, want 2", snap.CurrentSegmentIndex)
	}
	seeks := f.element.Seeks()
	if len(seeks) == 0 || seeks[len(seeks)-1] != 5 {
		t.Errorf("over-end seek offset = %v, want final 5", seeks)
	}

	// Before the start: clamp to the very beginning.
	if err := f.controller.Seek(-7); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	f.element.FireLoadedMetadata(3)
	snap = f.controller.Snapshot()
	if snap.CurrentSegmentIndex != 0 {
		t.Errorf("negative seek segment = %d, want 0", snap.CurrentSegmentIndex)
	}
}

func TestPauseEmitsNilHighlightOnce(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4)

	var nilEmissions int
	f.sync.OnChange(func(key *string) {
		if key == nil {
			nilEmissions++
		}
	})

	f.startPlaying(t, "article-1", 3)

	if err := f.controller.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := f.controller.Pause(); err != nil {
		t.Fatalf("repeated pause failed: %v", err)
	}

	if got := f.controller.State(); got != StatePaused {
		t.Errorf("expected paused, got %s", got)
	}
	if f.element.IsPlaying() {
		t.Error("element still playing after pause")
	}
	if nilEmissions != 1 {
		t.Errorf("nil highlight emitted %d times, want exactly 1", nilEmissions)
	}
	if key := f.sync.Active(); key != nil {
		t.Errorf("active highlight after pause = %q, want nil", *key)
	}
}

func TestResumeFromPause(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4)
	f.startPlaying(t, "article-1", 3)

	if err := f.controller.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := f.controller.Play(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if got := f.controller.State(); got != StatePlaying {
		t.Errorf("expected playing after resume, got %s", got)
	}
	if key := f.sync.Active(); key == nil {
		t.Error("highlight not restored on resume")
	}
}

func TestTogglePlay(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3)
	f.startPlaying(t, "article-1", 3)

	if err := f.controller.TogglePlay(); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if got := f.controller.State(); got != StatePaused {
		t.Errorf("toggle from playing gave %s, want paused", got)
	}

	if err := f.controller.TogglePlay(); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if got := f.controller.State(); got != StatePlaying {
		t.Errorf("toggle from paused gave %s, want playing", got)
	}
}

func TestPlaybackEndsAfterLastSegment(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4)
	f.startPlaying(t, "article-1", 3)

	f.element.FireEnded()        // into segment 1
	f.element.FireLoadedMetadata(4)
	f.element.FireEnded()        // past the last segment

	snap := f.controller.Snapshot()
	if snap.State != StateEnded {
		t.Fatalf("expected ended, got %s", snap.State)
	}
	if snap.CurrentSegmentIndex != 0 {
		t.Errorf("expected index reset to 0 for replay, got %d", snap.CurrentSegmentIndex)
	}
	if snap.CumulativeElapsed != 0 {
		t.Errorf("elapsed after end = %v, want 0 (local time reset)", snap.CumulativeElapsed)
	}
	if got := f.controller.Position(); got != 0 {
		t.Errorf("position after end = %v, want 0", got)
	}
	if key := f.sync.Active(); key != nil {
		t.Errorf("active highlight after end = %q, want nil", *key)
	}

	// Replay from the terminal state starts over at segment 0.
	if err := f.controller.Play(); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	f.element.FireLoadedMetadata(3)
	if got := f.controller.State(); got != StatePlaying {
		t.Errorf("expected playing on replay, got %s", got)
	}
}

func TestStop(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4)
	f.startPlaying(t, "article-1", 3)
	f.element.FireEnded() // move off segment 0

	if err := f.controller.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	snap := f.controller.Snapshot()
	if snap.State != StateIdle {
		t.Errorf("expected idle after stop, got %s", snap.State)
	}
	if snap.CurrentSegmentIndex != 0 {
		t.Errorf("expected index 0 after stop, got %d", snap.CurrentSegmentIndex)
	}
	if key := f.sync.Active(); key != nil {
		t.Errorf("active highlight after stop = %q, want nil", *key)
	}
}

func TestContentSwitchReleasesAllHandles(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-a", 3, 4, 5)
	f.saveContent(t, "article-b", 2, 2)

	if err := f.controller.Load("article-a"); err != nil {
		t.Fatalf("load A failed: %v", err)
	}
	if got := f.blobs.Outstanding(); got != 3 {
		t.Fatalf("outstanding after load A = %d, want 3", got)
	}

	if err := f.controller.Load("article-b"); err != nil {
		t.Fatalf("load B failed: %v", err)
	}
	if got := f.blobs.Outstanding(); got != 2 {
		t.Errorf("outstanding after switch to B = %d, want 2 (A fully released)", got)
	}

	if err := f.controller.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if got := f.blobs.Outstanding(); got != 0 {
		t.Errorf("outstanding after close = %d, want 0", got)
	}
}

func TestContentSwitchPausesElement(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-a", 3, 4)
	f.saveContent(t, "article-b", 2)
	f.startPlaying(t, "article-a", 3)

	if err := f.controller.Load("article-b"); err != nil {
		t.Fatalf("load B failed: %v", err)
	}

	if f.element.IsPlaying() {
		t.Error("element still playing the old content after a content switch")
	}
	if got := f.controller.State(); got != StateIdle {
		t.Errorf("expected idle after load, got %s", got)
	}
}

func TestSeekWhileStoppedSurvivesPlay(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4, 5)

	if err := f.controller.Load("article-1"); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if err := f.controller.Seek(9.5); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	f.element.FireLoadedMetadata(5)

	if f.element.IsPlaying() {
		t.Fatal("seek while idle must not start playback")
	}
	sources := len(f.element.Sources())

	if err := f.controller.Play(); err != nil {
		t.Fatalf("play failed: %v", err)
	}

	if len(f.element.Sources()) != sources {
		t.Error("play reassigned the source and discarded the seek position")
	}
	if got := f.controller.State(); got != StatePlaying {
		t.Errorf("expected playing, got %s", got)
	}
	if !f.element.IsPlaying() {
		t.Error("element was not told to play")
	}
	if got := f.controller.Position(); got != 9.5 {
		t.Errorf("position = %v, want the sought 9.5", got)
	}
}

func TestFatalMediaErrorInvalidatesEntry(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4)
	f.startPlaying(t, "article-1", 3)

	var reported error
	f.controller.OnError(func(err error) { reported = err })

	f.element.FireError(MediaErrUnsupported)

	entry, err := f.store.Get("article-1")
	if err != nil {
		t.Fatalf("store read failed: %v", err)
	}
	if entry != nil {
		t.Error("cache entry survived a fatal media error")
	}
	if got := f.blobs.Outstanding(); got != 0 {
		t.Errorf("outstanding handles after fatal error = %d, want 0", got)
	}
	if !errors.Is(reported, ErrNoAudio) {
		t.Errorf("reported error = %v, want ErrNoAudio", reported)
	}
	if got := f.controller.State(); got != StateIdle {
		t.Errorf("expected idle after fatal error, got %s", got)
	}
}

func TestTransientMediaErrorKeepsEntry(t *testing.T) {
	f := newFixture(t)
	f.saveContent(t, "article-1", 3, 4)
	f.startPlaying(t, "article-1", 3)

	var reported error
	f.controller.OnError(func(err error) { reported = err })

	f.element.FireError(MediaErrAbortedLoad)

	if got := f.controller.State(); got != StatePaused {
		t.Errorf("expected paused after transient error, got %s", got)
	}
	if !f.store.Has("article-1") {
		t.Error("cache entry purged for a transient error")
	}
	if key := f.sync.Active(); key != nil {
		t.Errorf("active highlight after transient error = %q, want nil", *key)
	}
	var mediaErr *MediaError
	if !errors.As(reported, &mediaErr) || mediaErr.Code != MediaErrAbortedLoad {
		t.Errorf("reported error = %v, want aborted-load media error", reported)
	}
	if f.controller.LastError() == nil {
		t.Error("last error not recorded")
	}
}

func TestVolumeAndMute(t *testing.T) {
	f := newFixture(t)

	f.controller.SetVolume(1.7)
	if got := f.element.Volume(); got != 1.0 {
		t.Errorf("volume = %v, want clamp to 1.0", got)
	}
	f.controller.SetVolume(-0.5)
	if got := f.element.Volume(); got != 0 {
		t.Errorf("volume = %v, want clamp to 0", got)
	}

	f.controller.SetMuted(true)
	if !f.element.Muted() {
		t.Error("mute not forwarded to element")
	}

	snap := f.controller.Snapshot()
	if snap.Volume != 0 || !snap.Muted {
		t.Errorf("snapshot volume/mute = %v/%v, want 0/true", snap.Volume, snap.Muted)
	}
}
