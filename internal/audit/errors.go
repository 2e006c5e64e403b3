package audit

import (
	"errors"
	"fmt"
)

var (
	// ErrScriptNotFound means the script path does not exist; nothing was spawned.
	ErrScriptNotFound = errors.New("audit script not found")
	// ErrCannotExecute means the launcher (script interpreter) is unavailable on the host.
	ErrCannotExecute = errors.New("audit script cannot be executed")
	// ErrTimeout means a configured timeout elapsed and the script was killed.
	ErrTimeout = errors.New("audit script timed out")
)

// UnexpectedError wraps any other failure during permission fix, spawn or capture.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error: %v", e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// Outcome labels used by metrics and history.
const (
	OutcomeSuccess       = "success"
	OutcomeNonZeroExit   = "nonzero_exit"
	OutcomeNotFound      = "not_found"
	OutcomeLaunchFailure = "launch_failure"
	OutcomeTimeout       = "timeout"
	OutcomeUnexpected    = "unexpected"
)

// Outcome classifies the return values of Runner.Run.
func Outcome(res Result, err error) string {
	switch {
	case err == nil && res.OK():
		return OutcomeSuccess
	case err == nil:
		return OutcomeNonZeroExit
	case errors.Is(err, ErrScriptNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrCannotExecute):
		return OutcomeLaunchFailure
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeUnexpected
	}
}
