//go:build !nocgo

package player

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/narratekit/narrate/blob"
)

// OtoElement is the audible media element. It plays 16-bit PCM payloads
// resolved through the blob registry on a single oto context.
type OtoElement struct {
	ctx            *oto.Context
	resolver       blob.Resolver
	bytesPerSecond float64
	frameSize      int64

	mu       sync.Mutex
	events   Events
	player   *oto.Player
	reader   *bytes.Reader
	size     int64
	duration float64
	loaded   bool
	playing  bool
	volume   float64
	muted    bool

	gen    int
	closed chan struct{}
	once   sync.Once
}

// NewPlatformElement creates the audible element for this build.
func NewPlatformElement(resolver blob.Resolver, sampleRate, channels int) (MediaElement, error) {
	return NewOtoElement(resolver, sampleRate, channels)
}

// NewOtoElement initializes the audio device and returns an element ready
// for SetSource.
func NewOtoElement(resolver blob.Resolver, sampleRate, channels int) (*OtoElement, error) {
	options := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   50 * time.Millisecond,
	}

	ctx, readyChan, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}
	select {
	case <-readyChan:
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("audio context initialization timeout")
	}

	e := &OtoElement{
		ctx:            ctx,
		resolver:       resolver,
		bytesPerSecond: float64(sampleRate * channels * 2),
		frameSize:      int64(channels * 2),
		volume:         1.0,
		closed:         make(chan struct{}),
	}
	go e.run()

	log.Debug("Audio element initialized", "sampleRate", sampleRate, "channels", channels)
	return e, nil
}

// SetHandler installs the event callbacks.
func (e *OtoElement) SetHandler(events Events) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = events
}

// SetSource assigns a new playable URL, pausing and discarding the current
// player. Metadata is reported asynchronously once the handle resolves.
func (e *OtoElement) SetSource(url string) {
	e.mu.Lock()
	e.discardPlayerLocked()
	e.playing = false
	e.loaded = false
	e.duration = 0
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	go e.load(url, gen)
}

func (e *OtoElement) load(url string, gen int) {
	res, ok := e.resolver.Resolve(url)

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	if !ok {
		onError := e.events.OnError
		e.mu.Unlock()
		log.Warn("Audio element could not resolve source", "url", url)
		if onError != nil {
			onError(MediaErrNetwork)
		}
		return
	}
	if int64(len(res.Bytes))%e.frameSize != 0 {
		onError := e.events.OnError
		e.mu.Unlock()
		log.Warn("Audio payload is not frame-aligned PCM", "url", url, "bytes", len(res.Bytes))
		if onError != nil {
			onError(MediaErrUnsupported)
		}
		return
	}

	e.reader = bytes.NewReader(res.Bytes)
	e.size = int64(len(res.Bytes))
	e.player = e.ctx.NewPlayer(e.reader)
	e.player.SetVolume(e.effectiveVolumeLocked())
	e.duration = float64(len(res.Bytes)) / e.bytesPerSecond
	e.loaded = true
	onLoaded := e.events.OnLoadedMetadata
	e.mu.Unlock()

	if onLoaded != nil {
		onLoaded()
	}
}

// Play starts or resumes the device player.
func (e *OtoElement) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded && e.player != nil {
		e.player.Play()
		e.playing = true
	}
}

// Pause suspends the device player without resetting position.
func (e *OtoElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.player != nil {
		e.player.Pause()
	}
	e.playing = false
}

// Seek repositions the underlying reader on a frame boundary.
func (e *OtoElement) Seek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded || e.reader == nil {
		return
	}
	offset := int64(seconds * e.bytesPerSecond)
	offset -= offset % e.frameSize
	if offset < 0 {
		offset = 0
	} else if offset > e.size {
		offset = e.size
	}
	if _, err := e.reader.Seek(offset, io.SeekStart); err != nil {
		log.Warn("Audio seek failed", "offset", offset, "error", err)
	}
}

// CurrentTime estimates the element-local position from reader consumption
// minus the device's unplayed buffer.
func (e *OtoElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTimeLocked()
}

func (e *OtoElement) currentTimeLocked() float64 {
	if !e.loaded || e.reader == nil {
		return 0
	}
	consumed := e.size - int64(e.reader.Len())
	if e.player != nil {
		consumed -= e.player.UnplayedBufferSize()
	}
	if consumed < 0 {
		consumed = 0
	}
	return float64(consumed) / e.bytesPerSecond
}

// Duration returns the current source duration, zero before metadata.
func (e *OtoElement) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// SetVolume sets playback volume.
func (e *OtoElement) SetVolume(volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = volume
	if e.player != nil {
		e.player.SetVolume(e.effectiveVolumeLocked())
	}
}

// SetMuted sets the mute flag.
func (e *OtoElement) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
	if e.player != nil {
		e.player.SetVolume(e.effectiveVolumeLocked())
	}
}

// Close stops playback and the watcher goroutine. The oto context itself
// has no close in v3 and is reclaimed with the process.
func (e *OtoElement) Close() error {
	e.once.Do(func() { close(e.closed) })

	e.mu.Lock()
	defer e.mu.Unlock()
	e.discardPlayerLocked()
	return nil
}

func (e *OtoElement) effectiveVolumeLocked() float64 {
	if e.muted {
		return 0
	}
	return e.volume
}

func (e *OtoElement) discardPlayerLocked() {
	if e.player != nil {
		e.player.Pause()
		if err := e.player.Close(); err != nil {
			log.Debug("Failed to close device player", "error", err)
		}
		e.player = nil
	}
	e.reader = nil
	e.size = 0
}

// run watches the device player for progress and completion; oto has no
// event callbacks of its own.
func (e *OtoElement) run() {
	ticker := time.NewTicker(timeUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *OtoElement) tick() {
	e.mu.Lock()
	if !e.playing || !e.loaded || e.player == nil {
		e.mu.Unlock()
		return
	}

	pos := e.currentTimeLocked()
	ended := e.reader.Len() == 0 && !e.player.IsPlaying()
	if ended {
		e.playing = false
		pos = e.duration
	}
	onTimeUpdate := e.events.OnTimeUpdate
	onEnded := e.events.OnEnded
	e.mu.Unlock()

	if onTimeUpdate != nil {
		onTimeUpdate(pos)
	}
	if ended && onEnded != nil {
		onEnded()
	}
}
