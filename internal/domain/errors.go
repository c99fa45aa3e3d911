package domain

import (
	"errors"
	"fmt"
)

// ErrFormatMismatch reports a source record that cannot be interpreted
// against the expected dataset geometry or encoding. Decode errors wrap it;
// match with errors.Is.
var ErrFormatMismatch = errors.New("format mismatch")

// ErrStoreExists reports an attempt to publish a store for a date that
// already has one. Stores are immutable; reprocessing a date requires
// removing the existing store first.
var ErrStoreExists = errors.New("store already exists")

// ErrStoreIncomplete reports a store root that is missing required metadata
// and must not be treated as a published store (an abandoned staging
// directory, an interrupted copy).
var ErrStoreIncomplete = errors.New("store incomplete")

// ConsistencyError reports source records for one variable that contradict
// each other: duplicate steps with differing data, mismatched shapes or
// axes, or a gap in the step sequence under GapFail policy. It is fatal for
// that variable only; match with errors.As.
type ConsistencyError struct {
	Variable string
	Step     int // forecast hour, or -1 when not step-specific
	Reason   string
}

func (e *ConsistencyError) Error() string {
	if e.Step >= 0 {
		return fmt.Sprintf("inconsistent data for %s at step %d: %s", e.Variable, e.Step, e.Reason)
	}
	return fmt.Sprintf("inconsistent data for %s: %s", e.Variable, e.Reason)
}
