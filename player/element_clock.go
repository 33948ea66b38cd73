package player

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/narratekit/narrate/blob"
)

// timeUpdateInterval is how often a playing element reports its position.
const timeUpdateInterval = 50 * time.Millisecond

// ClockElement is a media element that advances a position clock over
// resolved PCM bytes without producing sound. It backs headless builds and
// drives the same event contract as the audible element.
type ClockElement struct {
	resolver       blob.Resolver
	bytesPerSecond float64

	mu       sync.Mutex
	events   Events
	duration float64
	position float64
	playing  bool
	loaded   bool
	volume   float64
	muted    bool

	// gen invalidates in-flight source loads when a newer SetSource
	// supersedes them.
	gen    int
	closed chan struct{}
	once   sync.Once
}

// NewClockElement creates a clock element resolving sources through the
// given resolver. Payloads are interpreted as 16-bit PCM at the given
// sample rate and channel count to derive durations.
func NewClockElement(resolver blob.Resolver, sampleRate, channels int) *ClockElement {
	e := &ClockElement{
		resolver:       resolver,
		bytesPerSecond: float64(sampleRate * channels * 2),
		volume:         1.0,
		closed:         make(chan struct{}),
	}
	go e.run()
	return e
}

// SetHandler installs the event callbacks.
func (e *ClockElement) SetHandler(events Events) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = events
}

// SetSource assigns a new playable URL. The element pauses, resets its
// local position and reports metadata asynchronously once the handle
// resolves.
func (e *ClockElement) SetSource(url string) {
	e.mu.Lock()
	e.playing = false
	e.loaded = false
	e.position = 0
	e.duration = 0
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	go e.load(url, gen)
}

func (e *ClockElement) load(url string, gen int) {
	res, ok := e.resolver.Resolve(url)

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	if !ok {
		onError := e.events.OnError
		e.mu.Unlock()
		log.Warn("Clock element could not resolve source", "url", url)
		if onError != nil {
			onError(MediaErrNetwork)
		}
		return
	}

	e.duration = float64(len(res.Bytes)) / e.bytesPerSecond
	e.loaded = true
	onLoaded := e.events.OnLoadedMetadata
	e.mu.Unlock()

	if onLoaded != nil {
		onLoaded()
	}
}

// Play starts the position clock. Playing before metadata is available is
// a no-op; the controller replays after OnLoadedMetadata.
func (e *ClockElement) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		e.playing = true
	}
}

// Pause stops the position clock without resetting the position.
func (e *ClockElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
}

// Seek sets the element-local position, clamped to [0, duration].
func (e *ClockElement) Seek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return
	}
	if seconds < 0 {
		seconds = 0
	} else if seconds > e.duration {
		seconds = e.duration
	}
	e.position = seconds
}

// CurrentTime returns the element-local position.
func (e *ClockElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// Duration returns the current source duration, zero before metadata.
func (e *ClockElement) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// SetVolume records the volume. The clock element produces no sound.
func (e *ClockElement) SetVolume(volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = volume
}

// SetMuted records the mute flag.
func (e *ClockElement) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
}

// Close stops the clock goroutine.
func (e *ClockElement) Close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}

func (e *ClockElement) run() {
	ticker := time.NewTicker(timeUpdateInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-e.closed:
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			e.tick(dt)
		}
	}
}

func (e *ClockElement) tick(dt float64) {
	e.mu.Lock()
	if !e.playing || !e.loaded {
		e.mu.Unlock()
		return
	}

	e.position += dt
	ended := false
	if e.position >= e.duration {
		e.position = e.duration
		e.playing = false
		ended = true
	}
	pos := e.position
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
