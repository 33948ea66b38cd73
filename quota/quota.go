// Package quota translates provider usage metadata into user-facing
// notices. It performs no network or storage access.
package quota

import (
	"fmt"
	"time"
)

// Usage is the daily-limit object embedded in generation responses and
// errors.
type Usage struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	NextReset time.Time `json:"nextReset"`
}

// Kind identifies which generation feature a usage object belongs to.
type Kind string

const (
	// KindNarration is full-article narration generation.
	KindNarration Kind = "narration"
	// KindPreview is short voice-preview generation.
	KindPreview Kind = "preview"
)

// Notice is a renderable quota message. The caller owns presentation.
type Notice struct {
	Title              string
	Message            string
	CountdownExpiresAt time.Time
}

var limitTitles = map[Kind]string{
	KindNarration: "Daily narration limit reached",
	KindPreview:   "Daily preview limit reached",
}

var limitMessages = map[Kind]string{
	KindNarration: "You have used all narration generations for today.",
	KindPreview:   "You have used all voice previews for today.",
}

// Notify builds a notice from a usage object, or nil when usage is absent.
// When isError is set the provider rejected the request outright and the
// notice carries the fixed hard-limit message for the kind; otherwise it
// reports the remaining count.
func Notify(usage *Usage, kind Kind, isError bool) *Notice {
	if usage == nil {
		return nil
	}

	if isError {
		title, ok := limitTitles[kind]
		if !ok {
			title = "Daily limit reached"
		}
		message, ok := limitMessages[kind]
		if !ok {
			message = "You have used all generations for today."
		}
		return &Notice{
			Title:              title,
			Message:            message,
			CountdownExpiresAt: usage.NextReset,
		}
	}

	return &Notice{
		Title:              "Generation complete",
		Message:            fmt.Sprintf("%d of %d generations left today.", usage.Remaining, usage.Limit),
		CountdownExpiresAt: usage.NextReset,
	}
}
