package generation

import (
	"errors"
	"fmt"

	"github.com/narratekit/narrate/quota"
)

// Common errors for generation rounds.
var (
	// ErrGenerationFailed indicates a round produced no usable segments.
	ErrGenerationFailed = errors.New("audio generation failed")
	// ErrGenerationCancelled indicates the round was cancelled before its
	// result could be persisted.
	ErrGenerationCancelled = errors.New("audio generation cancelled")
	// ErrNetwork indicates the provider could not be reached.
	ErrNetwork = errors.New("network error")
)

// QuotaError is returned when the provider rejects a request against its
// daily usage ceiling. It carries the usage object for notification.
type QuotaError struct {
	Usage quota.Usage
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("generation quota exceeded: %d of %d remaining", e.Usage.Remaining, e.Usage.Limit)
}
