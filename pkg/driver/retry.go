package driver

import (
	"errors"
	"fmt"
)

// DefaultStaleAttempts is the retry budget applied when a Resilient is built
// with a non-positive attempt count.
const DefaultStaleAttempts = 3

// ErrStaleNotResolved is returned when the retry budget is exhausted without
// the stale condition healing. It deliberately replaces the raw staleness
// error so callers can tell an unhealable transient glitch apart from
// ordinary interaction failures.
var ErrStaleNotResolved = errors.New("driver: stale element state could not be resolved")

// Resilient applies a bounded retry policy to driver operations that can fail
// with ErrStaleReference. It is the single place in the repository where a
// failed driver call is re-issued; every other layer treats driver errors as
// terminal for the request being served.
type Resilient struct {
	attempts int
}

// NewResilient returns a Resilient with the given attempt budget.
func NewResilient(attempts int) *Resilient {
	if attempts <= 0 {
		attempts = DefaultStaleAttempts
	}
	return &Resilient{attempts: attempts}
}

// GetText runs op, retrying on stale references. Between attempts the heal
// closure is invoked to re-establish a live element, typically by re-locating
// it with its original locator. A nil heal skips the corrective step.
//
// Non-stale errors pass through unchanged on the first occurrence. When every
// attempt fails stale, ErrStaleNotResolved is returned instead of the raw
// condition.
func (r *Resilient) GetText(op func() (string, error), heal func() error) (string, error) {
	for attempt := 0; attempt < r.attempts; attempt++ {
		text, err := op()
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrStaleReference) {
			return "", err
		}
		if heal != nil {
			if healErr := heal(); healErr != nil {
				return "", fmt.Errorf("healing stale element: %w", healErr)
			}
		}
	}
	return "", ErrStaleNotResolved
}

// Do is GetText for operations with no result value.
func (r *Resilient) Do(op func() error, heal func() error) error {
	_, err := r.GetText(func() (string, error) {
		return "", op()
	}, heal)
	return err
}
