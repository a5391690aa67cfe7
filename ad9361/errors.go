package ad9361

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the tuning and calibration paths. Callers can
// match them with errors.Is to tell bad input apart from hardware faults.
var (
	ErrNotInitialized      = errors.New("device not initialized")
	ErrOutOfRange          = errors.New("requested value out of range")
	ErrWrongChipState      = errors.New("chip is in the wrong state for this operation")
	ErrNoValidDivider      = errors.New("no VCO divider reaches the requested rate")
	ErrPLLNotLocked        = errors.New("pll failed to lock")
	ErrUnsupportedTapCount = errors.New("unsupported number of fir taps")
	ErrQuadCalFreqRange    = errors.New("quadrature cal tone falls outside the baseband bandwidth")

	// ErrInvalidCodePath marks an internal invariant violation: a lookup
	// table exhausted or a band selected that the upstream range checks
	// should have made impossible.
	ErrInvalidCodePath = errors.New("invalid code path")
)

// CalTimeoutError reports a bounded poll that exhausted its attempts before
// the chip signalled completion.
type CalTimeoutError struct {
	Cal string
}

func (e *CalTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s", e.Cal)
}
