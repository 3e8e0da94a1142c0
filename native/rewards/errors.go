package rewards

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a mutating entry point is called by
	// anyone other than the registered controller (or admin for speed
	// changes). Nothing is written.
	ErrUnauthorized = errors.New("rewards: caller not authorised")
	// ErrArithmeticOverflow reports a fixed-point intermediate that does not
	// fit the 256-bit working width.
	ErrArithmeticOverflow = errors.New("rewards: arithmetic overflow")
	// ErrInvariantViolation reports a decreasing index or a snapshot ahead of
	// the market index. It is never clamped.
	ErrInvariantViolation = errors.New("rewards: invariant violation")
	// ErrUnderflow is the index subtraction failure. It matches
	// ErrInvariantViolation under errors.Is.
	ErrUnderflow = fmt.Errorf("%w: index underflow", ErrInvariantViolation)

	ErrNilState     = errors.New("rewards engine: state not configured")
	ErrNilMarkets   = errors.New("rewards engine: market view not configured")
	ErrInvalidSide  = errors.New("rewards engine: invalid side")
	ErrInvalidSpeed = errors.New("rewards engine: speed must not be negative")
)
