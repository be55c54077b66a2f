// Package errs holds the sentinel errors shared across the engine.
//
// Component packages return typed errors carrying detail (which field,
// which id, which price); every typed error unwraps to one of these
// sentinels so callers can branch with errors.Is.
package errs

import "errors"

var (
	// ErrValidation rejects bad indicator or strategy parameters.
	ErrValidation = errors.New("validation failed")

	// ErrDataGap reports fewer bars than an indicator or evaluation needs.
	ErrDataGap = errors.New("insufficient data")

	// ErrInvalidPrice rejects a non-positive or non-finite trade price.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrUnknownReference reports a condition pointing at a missing indicator.
	ErrUnknownReference = errors.New("unknown indicator reference")

	// ErrStaleGeneration marks a fetch result for a context that is no longer active.
	ErrStaleGeneration = errors.New("stale generation")
)
