package emulator

import "errors"

var (
	// ErrDegenerateRegression means the regression design matrix is rank
	// deficient or produced non-finite coefficients.
	ErrDegenerateRegression = errors.New("degenerate regression")
	// ErrSingularCovariance means the training covariance (nugget included)
	// could not be factorised, even after ridge regularisation.
	ErrSingularCovariance = errors.New("singular covariance")
	// ErrInvalidDesign means a design or its outputs failed validation.
	ErrInvalidDesign = errors.New("invalid design")
)
