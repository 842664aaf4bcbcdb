// Package errkind defines the error categories shared by the engine packages.
//
// Every failure returned by tagset, feature, weights, perceptron and maxent
// wraps one of these sentinels, so callers can branch with errors.Is.
package errkind

import "errors"

var (
	// ErrConfiguration reports a malformed or missing vocabulary, feature
	// catalog or option value.
	ErrConfiguration = errors.New("configuration error")

	// ErrIndexOutOfRange reports a label or buffer index outside its bounds.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrCapacityExceeded reports an extractor that produced more features
	// than its declared maximum.
	ErrCapacityExceeded = errors.New("feature capacity exceeded")

	// ErrPrecondition reports a call made in a state that does not allow it,
	// such as training with a negative label.
	ErrPrecondition = errors.New("precondition violated")

	// ErrMalformedModel reports an unparsable model file line.
	ErrMalformedModel = errors.New("malformed model")
)
