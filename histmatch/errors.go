package histmatch

import "errors"

var (
	// ErrInsufficientAcceptedPoints is returned, together with the partial
	// result, when the refocusing sampler exhausts its attempt budget.
	ErrInsufficientAcceptedPoints = errors.New("insufficient accepted points")
	// ErrInvalidTarget means a target names an output with no emulator, or
	// carries an unusable uncertainty.
	ErrInvalidTarget = errors.New("invalid target specification")
)
