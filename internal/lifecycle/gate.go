package lifecycle

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNotPermitted is returned when a state-gated operation is attempted
// outside the states that allow it.
var ErrNotPermitted = errors.New("lifecycle: operation not permitted in current state")

// Require returns nil when current is one of allowed, ErrNotPermitted
// otherwise.
func Require(current State, allowed ...State) error {
	if slices.Contains(allowed, current) {
		return nil
	}
	return fmt.Errorf("%w: %s (allowed: %v)", ErrNotPermitted, current, allowed)
}
