package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is wrapped by every DeniedError.
	ErrQuotaExceeded = errors.New("reaction quota exceeded")
	// ErrTargetBusy is returned when another request holds the target lock for too long.
	ErrTargetBusy = errors.New("target is busy")
	// ErrInvalidCount is returned for negative reaction counts.
	ErrInvalidCount = errors.New("invalid reaction count")
)

// DeniedError describes a rejected admission.
type DeniedError struct {
	Budget    int
	Used      int
	Requested int
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: used %d of %d, requested %d", ErrQuotaExceeded, e.Used, e.Budget, e.Requested)
}

func (e *DeniedError) Unwrap() error {
	return ErrQuotaExceeded
}

// Remaining returns the reactions still available in the current window.
func (e *DeniedError) Remaining() int {
	return max(e.Budget-e.Used, 0)
}
