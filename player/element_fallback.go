//go:build nocgo

package player

import "github.com/narratekit/narrate/blob"

// NewPlatformElement returns the silent clock element on builds without
// audio device support.
func NewPlatformElement(resolver blob.Resolver, sampleRate, channels int) (MediaElement, error) {
	return NewClockElement(resolver, sampleRate, channels), nil
}
