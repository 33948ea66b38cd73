package player

import "sync"

// MockElement is a hand-cranked media element for tests. It records every
// command and fires no events on its own; tests drive the event flow with
// the Fire helpers, which invoke handlers synchronously.
type MockElement struct {
	mu sync.Mutex

	events      Events
	source      string
	sources     []string
	currentTime float64
	duration    float64
	playing     bool
	volume      float64
	muted       bool
	closedCount int
	seeks       []float64
}

// NewMockElement creates an idle mock element.
func NewMockElement() *MockElement {
	return &MockElement{volume: 1.0}
}

func (m *MockElement) SetHandler(events Events) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = events
}

func (m *MockElement) SetSource(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = url
	m.sources = append(m.sources, url)
	m.playing = false
	m.currentTime = 0
	m.duration = 0
}

func (m *MockElement) Play() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = true
}

func (m *MockElement) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
}

func (m *MockElement) Seek(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = seconds
	m.seeks = append(m.seeks, seconds)
}

func (m *MockElement) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *MockElement) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

func (m *MockElement) SetVolume(volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = volume
}

func (m *MockElement) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
}

func (m *MockElement) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedCount++
	return nil
}

// Test drivers.

// FireLoadedMetadata simulates metadata becoming available for the current
// source with the given duration.
func (m *MockElement) FireLoadedMetadata(duration float64) {
	m.mu.Lock()
	m.duration = duration
	fn := m.events.OnLoadedMetadata
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FireTimeUpdate simulates a playback position report.
func (m *MockElement) FireTimeUpdate(seconds float64) {
	m.mu.Lock()
	m.currentTime = seconds
	fn := m.events.OnTimeUpdate
	m.mu.Unlock()
	if fn != nil {
		fn(seconds)
	}
}

// FireEnded simulates the current source playing to completion.
func (m *MockElement) FireEnded() {
	m.mu.Lock()
	m.playing = false
	fn := m.events.OnEnded
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FireError simulates a media failure.
func (m *MockElement) FireError(code MediaErrorCode) {
	m.mu.Lock()
	fn := m.events.OnError
	m.mu.Unlock()
	if fn != nil {
		fn(code)
	}
}

// Inspection helpers.

// Source returns the most recently assigned URL.
func (m *MockElement) Source() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// Sources returns every URL ever assigned, in order.
func (m *MockElement) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sources))
	copy(out, m.sources)
	return out
}

// IsPlaying reports whether the element was last told to play.
func (m *MockElement) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Seeks returns every local seek issued, in order.
func (m *MockElement) Seeks() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.seeks))
	copy(out, m.seeks)
	return out
}

// Volume returns the last volume set.
func (m *MockElement) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// Muted returns the last mute flag set.
func (m *MockElement) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}
