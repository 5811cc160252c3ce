package apperrors

import "errors"

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitConflict = 3
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage), errors.Is(err, ErrValidation):
		return ExitUsage
	case errors.Is(err, ErrConflict):
		return ExitConflict
	default:
		return ExitFailure
	}
}
