// Package rigerr defines the error taxonomy shared by every rig component.
//
// Errors are sentinel values wrapped with context via fmt.Errorf("%w"), so
// callers classify them with errors.Is:
//
//	if errors.Is(err, rigerr.ErrInvalidState) { ... }
//
// No error in this taxonomy is fatal to the process and none of them leave
// partially mutated state behind.
package rigerr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation reports bad user input: out-of-range parameters, unknown
	// identifiers or a malformed import file.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState reports an action that is incompatible with the
	// current machine state, such as starting a running device.
	ErrInvalidState = errors.New("invalid state")

	// ErrDivision reports a ratio computed with a zero divisor. It is a
	// specialization of ErrInvalidState.
	ErrDivision = fmt.Errorf("%w: division by zero", ErrInvalidState)

	// ErrFitFailure reports that the curve fitter did not converge. It is
	// recovered locally by the analyzer.
	ErrFitFailure = errors.New("fit failure")
)

// Validation returns an ErrValidation wrapped with a formatted message.
func Validation(format string, args ...any) error {
	return wrap(ErrValidation, format, args...)
}

// InvalidState returns an ErrInvalidState wrapped with a formatted message.
func InvalidState(format string, args ...any) error {
	return wrap(ErrInvalidState, format, args...)
}

// Division returns an ErrDivision wrapped with a formatted message.
func Division(format string, args ...any) error {
	return wrap(ErrDivision, format, args...)
}

// FitFailure returns an ErrFitFailure wrapped with a formatted message.
func FitFailure(format string, args ...any) error {
	return wrap(ErrFitFailure, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns a short machine-readable name for err's category, or
// "internal" when err is outside the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDivision):
		return "division"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrFitFailure):
		return "fit_failure"
	default:
		return "internal"
	}
}
