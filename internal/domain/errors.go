package domain

import (
	"errors"
	"fmt"
)

// State-conflict errors. These indicate the caller's view of bracket state is
// stale; the engine never retries them on the caller's behalf.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateSlug = errors.New("duplicate slug")
	ErrInvalidState  = errors.New("invalid state")
)

// GuardRejection is returned when the risk guard denies an action. It is a
// distinct type so callers can tell a policy denial (trading safely halted)
// from a storage outage (trading unreachable) — conflating the two would let
// an operator believe trading is disabled when the store is simply down.
type GuardRejection struct {
	Reason string
}

func (e *GuardRejection) Error() string {
	return fmt.Sprintf("guard rejected: %s", e.Reason)
}

// IsGuardRejection reports whether err is (or wraps) a guard rejection and
// returns the reason code when it is.
func IsGuardRejection(err error) (string, bool) {
	var gr *GuardRejection
	if errors.As(err, &gr) {
		return gr.Reason, true
	}
	return "", false
}
