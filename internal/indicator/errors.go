package indicator

import (
	"fmt"

	"chartsignal/internal/errs"
)

// ValidationError rejects an indicator spec. The registry is left untouched.
type ValidationError struct {
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("indicator %q: %s %s", e.ID, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return errs.ErrValidation }

// UnknownReferenceError reports a reference to an indicator id or line that
// does not exist. Resolution falls back to 0.
type UnknownReferenceError struct {
	Ref string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown indicator reference %q", e.Ref)
}

func (e *UnknownReferenceError) Unwrap() error { return errs.ErrUnknownReference }

// DataGapError reports an index outside the computed window.
type DataGapError struct {
	Ref   string
	Index int
	Len   int
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("indicator %q: index %d outside window of %d bars", e.Ref, e.Index, e.Len)
}

func (e *DataGapError) Unwrap() error { return errs.ErrDataGap }
