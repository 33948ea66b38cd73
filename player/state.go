// Package player reconstructs one continuous, seekable timeline out of
// independently generated audio segments, driving a single media element.
package player

// State represents the playback controller state.
type State int

const (
	// StateIdle indicates no content is being played.
	StateIdle State = iota
	// StateLoadingMetadata indicates the element is loading a segment
	// before the first play.
	StateLoadingMetadata
	// StatePlaying indicates audio is actively playing.
	StatePlaying
	// StatePaused indicates playback is paused.
	StatePaused
	// StateSegmentTransition is the sub-state entered on a segment
	// boundary: the next segment's source has been assigned and playback
	// resumes as soon as its metadata is available. Logically the
	// controller is still playing.
	StateSegmentTransition
	// StateEnded is reached after the last segment completes.
	StateEnded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingMetadata:
		return "loading-metadata"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSegmentTransition:
		return "segment-transition"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// IsLogicallyPlaying reports whether the user perceives playback as
// running. Segment transitions and metadata loads triggered by play intent
// count as playing even though the element is momentarily paused.
func (s State) IsLogicallyPlaying() bool {
	return s == StatePlaying || s == StateSegmentTransition || s == StateLoadingMetadata
}

// StateMachine validates playback state transitions against a fixed table.
type StateMachine struct {
	current     State
	transitions map[State][]State
	onEnter     map[State]func()
}

// NewStateMachine creates a state machine in StateIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		transitions: map[State][]State{
			StateIdle:              {StateLoadingMetadata},
			StateLoadingMetadata:   {StatePlaying, StatePaused, StateIdle},
			StatePlaying:           {StatePaused, StateSegmentTransition, StateEnded, StateIdle},
			StateSegmentTransition: {StatePlaying, StatePaused, StateIdle},
			StatePaused:            {StatePlaying, StateLoadingMetadata, StateIdle},
			StateEnded:             {StateLoadingMetadata, StateIdle},
		},
		onEnter: make(map[State]func()),
	}
}

// Transition attempts to move to the given state, returning false when the
// table forbids it.
func (sm *StateMachine) Transition(to State) bool {
	valid := false
	for _, state := range sm.transitions[sm.current] {
		if state == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}

	sm.current = to
	if fn, ok := sm.onEnter[to]; ok && fn != nil {
		fn()
	}
	return true
}

// Reset forces the machine back to StateIdle regardless of the current
// state. Used on content switch and teardown.
func (sm *StateMachine) Reset() {
	sm.current = StateIdle
}

// Current returns the current state.
func (sm *StateMachine) Current() State {
	return sm.current
}

// OnEnter registers a callback invoked after entering a state.
func (sm *StateMachine) OnEnter(state State, fn func()) {
	sm.onEnter[state] = fn
}
