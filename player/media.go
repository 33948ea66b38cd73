package player

import "fmt"

// MediaErrorCode classifies media element failures.
type MediaErrorCode int

const (
	// MediaErrAbortedLoad indicates loading was aborted mid-flight.
	MediaErrAbortedLoad MediaErrorCode = iota + 1
	// MediaErrNetwork indicates the source could not be fetched or
	// resolved.
	MediaErrNetwork
	// MediaErrDecode indicates the bytes could not be decoded.
	MediaErrDecode
	// MediaErrUnsupported indicates the source format is not playable.
	MediaErrUnsupported
)

// String returns the string representation of the error code.
func (c MediaErrorCode) String() string {
	switch c {
	case MediaErrAbortedLoad:
		return "aborted-load"
	case MediaErrNetwork:
		return "network"
	case MediaErrDecode:
		return "decode-failure"
	case MediaErrUnsupported:
		return "format-unsupported"
	default:
		return "unknown"
	}
}

// FatalToSource reports whether the error class means the source itself is
// unusable, warranting cache invalidation for the content.
func (c MediaErrorCode) FatalToSource() bool {
	return c == MediaErrNetwork || c == MediaErrUnsupported
}

// MediaError is a playback failure surfaced by the media element.
type MediaError struct {
	Code MediaErrorCode
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media error: %s", e.Code)
}

// Events is the callback set a media element delivers playback events
// through. All callbacks are invoked asynchronously with respect to
// element method calls.
type Events struct {
	// OnLoadedMetadata fires once a newly assigned source is ready to
	// play and its duration is known.
	OnLoadedMetadata func()
	// OnTimeUpdate fires periodically with the element-local position
	// while playing.
	OnTimeUpdate func(seconds float64)
	// OnEnded fires when the current source plays to completion.
	OnEnded func()
	// OnError fires when loading or playback fails.
	OnError func(code MediaErrorCode)
}

// MediaElement is the single underlying playback element a controller
// drives. Assigning a new source implicitly pauses the element and resets
// its local position; the element cannot be positioned until the following
// OnLoadedMetadata.
type MediaElement interface {
	SetHandler(events Events)

	// SetSource assigns a playable URL. Pauses the element.
	SetSource(url string)

	Play()
	Pause()

	// Seek sets the element-local position in seconds. Valid only after
	// metadata has loaded for the current source.
	Seek(seconds float64)

	CurrentTime() float64
	Duration() float64

	SetVolume(volume float64)
	SetMuted(muted bool)

	Close() error
}
