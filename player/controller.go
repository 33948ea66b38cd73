package player

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/narratekit/narrate/blob"
	"github.com/narratekit/narrate/highlight"
	"github.com/narratekit/narrate/store"
)

// Common errors for the playback controller.
var (
	// ErrNoAudio indicates no valid cache entry exists for the content;
	// the caller should prompt for regeneration.
	ErrNoAudio = errors.New("no audio available")
	// ErrNoContent indicates a playback command arrived before Load.
	ErrNoContent = errors.New("no content loaded")
)

// pcmMIME tags minted handles with the payload type the elements expect.
const pcmMIME = "audio/pcm"

// PlaybackState is a snapshot of the transient playback state.
type PlaybackState struct {
	State               State
	CurrentSegmentIndex int
	IsPlaying           bool
	Volume              float64
	Muted               bool
	CumulativeElapsed   float64
	TotalDuration       float64
}

// Controller turns N independent audio segments into one continuous,
// seekable timeline. It owns the single media element for its session and
// every blob handle minted for it.
//
// Event callbacks registered with OnError and the highlight sync fire with
// internal state settled but must not call back into the controller.
type Controller struct {
	mu sync.Mutex

	element MediaElement
	blobs   *blob.Registry
	store   *store.AudioStore
	sync    *highlight.Sync

	contentID string
	segments  []store.AudioSegment
	keys      []highlight.Segment
	urls      []string
	total     float64

	machine        *StateMachine
	current        int
	volume         float64
	muted          bool
	pendingSeek    *float64
	metadataLoaded bool

	// epoch guards element callbacks against staleness: callbacks bound
	// to a previous content id must not mutate state for the current one.
	epoch int

	lastErr error
	onError func(error)
}

// NewController creates a controller around the given collaborators. The
// element must be exclusive to this controller.
func NewController(element MediaElement, blobs *blob.Registry, audioStore *store.AudioStore, hl *highlight.Sync) *Controller {
	c := &Controller{
		element: element,
		blobs:   blobs,
		store:   audioStore,
		sync:    hl,
		machine: NewStateMachine(),
		volume:  1.0,
	}
	return c
}

// OnError registers a callback for transient playback errors.
func (c *Controller) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Load prepares playback for contentID from the cache. It never reaches
// the network: a missing or invalidated entry returns ErrNoAudio so the
// caller can prompt regeneration. Any handles from previously loaded
// content are released before new ones are minted.
func (c *Controller) Load(contentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()

	entry, err := c.store.Get(contentID)
	if err != nil {
		return fmt.Errorf("cache read failed: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("%w for %q", ErrNoAudio, contentID)
	}

	c.contentID = contentID
	c.segments = entry.Segments
	c.total = entry.TotalDurationSeconds
	c.keys = make([]highlight.Segment, len(entry.Segments))
	c.urls = make([]string, len(entry.Segments))
	for i, seg := range entry.Segments {
		c.keys[i] = highlight.Segment{ID: seg.ID, SourceRef: seg.SourceRef}
		c.urls[i] = c.blobs.Mint(seg.Bytes, pcmMIME)
	}

	c.bindElementLocked()

	log.Info("Loaded content for playback",
		"contentID", contentID,
		"segments", len(entry.Segments),
		"duration", c.total)
	return nil
}

// Play starts or resumes playback. From StateIdle or StateEnded it
// (re)loads the current segment into the element and plays once metadata
// is available; from StatePaused it resumes in place.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.segments) == 0 {
		return ErrNoContent
	}

	switch c.machine.Current() {
	case StatePaused:
		if c.metadataLoaded {
			c.element.Play()
			c.machine.Transition(StatePlaying)
			c.sync.Update(c.current, c.keys, true)
			return nil
		}
		// Paused mid-load (e.g. after a cross-segment seek while
		// paused): resume play intent, metadata handler finishes the
		// job.
		c.machine.Transition(StateLoadingMetadata)
		return nil

	case StateIdle, StateEnded:
		c.lastErr = nil
		c.machine.Transition(StateLoadingMetadata)
		if c.metadataLoaded {
			// A seek while stopped already loaded the current segment and
			// positioned it; reassigning the source would restart it at 0.
			c.element.Play()
			c.machine.Transition(StatePlaying)
			c.sync.Update(c.current, c.keys, true)
			return nil
		}
		c.element.SetSource(c.urls[c.current])
		return nil

	default:
		// Already playing or about to.
		return nil
	}
}

// Pause stops playback. Pausing always clears the active highlight,
// regardless of which segment was active.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.machine.Current() {
	case StatePlaying, StateSegmentTransition, StateLoadingMetadata:
		c.element.Pause()
		c.machine.Transition(StatePaused)
		c.sync.Update(c.current, c.keys, false)
		return nil
	case StatePaused:
		return nil
	default:
		return fmt.Errorf("cannot pause in state %s", c.machine.Current())
	}
}

// TogglePlay plays when paused or idle and pauses when playing.
func (c *Controller) TogglePlay() error {
	c.mu.Lock()
	playing := c.machine.Current().IsLogicallyPlaying()
	c.mu.Unlock()

	if playing {
		return c.Pause()
	}
	return c.Play()
}

// Stop halts playback and returns to StateIdle without unloading content.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.element.Pause()
	c.machine.Reset()
	c.current = 0
	c.pendingSeek = nil
	c.metadataLoaded = false
	c.sync.Update(0, c.keys, false)
	return nil
}

// Seek moves playback to a position on the global timeline. Positions are
// clamped to [0, total]; a seek that crosses a segment boundary switches
// the element source and defers the local offset until the destination
// segment's metadata is available.
func (c *Controller) Seek(globalSeconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.segments) == 0 {
		return ErrNoContent
	}

	dest, offset := c.locate(globalSeconds)

	if dest == c.current && c.metadataLoaded {
		c.element.Seek(offset)
		return nil
	}

	c.current = dest
	c.pendingSeek = &offset
	c.metadataLoaded = false

	if c.machine.Current() == StatePlaying {
		c.machine.Transition(StateSegmentTransition)
	}
	c.element.SetSource(c.urls[dest])
	return nil
}

// Position returns the cumulative elapsed time: the durations of all
// completed segments plus the element-local position. It is recomputed on
// every call, never cached, so it cannot drift.
func (c *Controller) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

// Duration returns the total timeline duration.
func (c *Controller) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// SetVolume sets playback volume, clamped to [0, 1].
func (c *Controller) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	c.volume = v
	c.element.SetVolume(v)
}

// SetMuted sets the mute flag.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	c.element.SetMuted(muted)
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Current()
}

// Snapshot returns a copy of the transient playback state.
func (c *Controller) Snapshot() PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PlaybackState{
		State:               c.machine.Current(),
		CurrentSegmentIndex: c.current,
		IsPlaying:           c.machine.Current().IsLogicallyPlaying(),
		Volume:              c.volume,
		Muted:               c.muted,
		CumulativeElapsed:   c.positionLocked(),
		TotalDuration:       c.total,
	}
}

// LastError returns the most recent playback error, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close tears the session down: playback stops, the element is closed and
// every handle minted for this session is released.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.element.Pause()
	c.teardownLocked()
	return c.element.Close()
}

// Element event handlers. Each is bound to the epoch current at Load time;
// events from a superseded session are dropped.

func (c *Controller) handleLoadedMetadata(epoch int) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}

	c.metadataLoaded = true

	// A seek that crossed a segment boundary parked its local offset
	// here; it is consumed exactly once.
	if c.pendingSeek != nil {
		c.element.Seek(*c.pendingSeek)
		c.pendingSeek = nil
	}

	// Reassigning the element source implicitly paused it. Resume if the
	// controller is logically playing.
	resumed := false
	switch c.machine.Current() {
	case StateLoadingMetadata, StateSegmentTransition:
		c.element.Play()
		c.machine.Transition(StatePlaying)
		resumed = true
	}
	index := c.current
	keys := c.keys
	c.mu.Unlock()

	if resumed {
		c.sync.Update(index, keys, true)
	}
}

func (c *Controller) handleTimeUpdate(epoch int, _ float64) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	index := c.current
	keys := c.keys
	playing := c.machine.Current() == StatePlaying
	c.mu.Unlock()

	c.sync.Update(index, keys, playing)
}

func (c *Controller) handleEnded(epoch int) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}

	if c.current < len(c.segments)-1 {
		// Segment boundary: stay logically playing, swap the source and
		// resume once the next segment's metadata arrives.
		c.current++
		c.metadataLoaded = false
		c.machine.Transition(StateSegmentTransition)
		url := c.urls[c.current]
		log.Debug("Segment transition",
			"contentID", c.contentID, "segment", c.current)
		c.mu.Unlock()

		c.element.SetSource(url)
		return
	}

	// Last segment finished: terminal state, reset index and local time so
	// the timeline reads 0 and a replay starts from the top.
	c.machine.Transition(StateEnded)
	c.current = 0
	c.metadataLoaded = false
	c.element.Seek(0)
	keys := c.keys
	log.Debug("Playback ended", "contentID", c.contentID)
	c.mu.Unlock()

	c.sync.Update(0, keys, false)
}

func (c *Controller) handleMediaError(epoch int, code MediaErrorCode) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}

	err := &MediaError{Code: code}
	c.lastErr = err
	c.element.Pause()

	if code.FatalToSource() {
		// The stored entry is unusable; purge it so the next visit
		// prompts clean regeneration instead of failing repeatedly.
		contentID := c.contentID
		log.Warn("Invalidating cache entry after fatal media error",
			"contentID", contentID, "code", code.String())
		c.teardownLocked()
		onError := c.onError
		c.mu.Unlock()

		if err := c.store.Delete(contentID); err != nil {
			log.Error("Failed to purge cache entry", "contentID", contentID, "error", err)
		}
		if onError != nil {
			onError(fmt.Errorf("%w: %v", ErrNoAudio, err))
		}
		return
	}

	// Transient error: pause, keep the cache entry and loaded content.
	switch c.machine.Current() {
	case StatePlaying, StateSegmentTransition, StateLoadingMetadata:
		c.machine.Transition(StatePaused)
	}
	index := c.current
	keys := c.keys
	onError := c.onError
	log.Warn("Transient media error", "contentID", c.contentID, "code", code.String())
	c.mu.Unlock()

	c.sync.Update(index, keys, false)
	if onError != nil {
		onError(err)
	}
}

// Internal helpers. All require c.mu held.

func (c *Controller) bindElementLocked() {
	epoch := c.epoch
	c.element.SetVolume(c.volume)
	c.element.SetMuted(c.muted)
	c.element.SetHandler(Events{
		OnLoadedMetadata: func() { c.handleLoadedMetadata(epoch) },
		OnTimeUpdate:     func(t float64) { c.handleTimeUpdate(epoch, t) },
		OnEnded:          func() { c.handleEnded(epoch) },
		OnError:          func(code MediaErrorCode) { c.handleMediaError(epoch, code) },
	})
}

func (c *Controller) positionLocked() float64 {
	var elapsed float64
	for i := 0; i < c.current && i < len(c.segments); i++ {
		elapsed += c.segments[i].DurationSeconds
	}
	return elapsed + c.element.CurrentTime()
}

// locate maps a global timeline position to (segment index, local offset),
// clamping at both ends. Seeking past the end lands at the final segment's
// own duration rather than failing.
func (c *Controller) locate(globalSeconds float64) (int, float64) {
	if globalSeconds <= 0 {
		return 0, 0
	}
	if globalSeconds >= c.total {
		last := len(c.segments) - 1
		return last, c.segments[last].DurationSeconds
	}

	var elapsed float64
	for i, seg := range c.segments {
		if globalSeconds < elapsed+seg.DurationSeconds {
			return i, globalSeconds - elapsed
		}
		elapsed += seg.DurationSeconds
	}
	last := len(c.segments) - 1
	return last, c.segments[last].DurationSeconds
}

// teardownLocked releases every handle minted for the current content and
// resets transient state. Bumping the epoch orphans any in-flight element
// callbacks from the old content.
func (c *Controller) teardownLocked() {
	c.element.Pause()
	c.epoch++
	if len(c.urls) > 0 {
		c.blobs.ReleaseAll(c.urls)
	}
	c.contentID = ""
	c.segments = nil
	c.keys = nil
	c.urls = nil
	c.total = 0
	c.current = 0
	c.pendingSeek = nil
	c.metadataLoaded = false
	c.machine.Reset()
}
