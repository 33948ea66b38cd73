// Package highlight derives the "currently spoken" key from playback state
// for the content renderer. It holds no playback state of its own.
package highlight

import "sync"

// Segment carries the two identifiers a highlight can be keyed on.
type Segment struct {
	ID        string
	SourceRef string
}

// Sync computes the active highlight key and notifies listeners on change.
// Emission is deduplicated: listeners hear each distinct key exactly once,
// and hear nil exactly once when playback stops.
type Sync struct {
	mu        sync.Mutex
	last      *string
	started   bool
	callbacks []func(key *string)
}

// New creates a Sync with no active key.
func New() *Sync {
	return &Sync{}
}

// OnChange registers a listener for key changes. Listeners are invoked
// synchronously from Update.
func (s *Sync) OnChange(fn func(key *string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Update recomputes the active key from the current segment index and
// playing flag. While playing, the key is the segment id, falling back to
// its source ref; when not playing the key is nil.
func (s *Sync) Update(index int, segments []Segment, isPlaying bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activeKey(index, segments, isPlaying)

	if s.started && equalKey(s.last, key) {
		return
	}
	s.started = true
	s.last = key

	for _, fn := range s.callbacks {
		fn(key)
	}
}

// Active returns the last emitted key.
func (s *Sync) Active() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func activeKey(index int, segments []Segment, isPlaying bool) *string {
	if !isPlaying || index < 0 || index >= len(segments) {
		return nil
	}
	seg := segments[index]
	if seg.ID != "" {
		return &seg.ID
	}
	if seg.SourceRef != "" {
		return &seg.SourceRef
	}
	return nil
}

func equalKey(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
