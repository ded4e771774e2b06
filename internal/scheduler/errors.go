package scheduler

import (
	"context"
	"errors"
	"fmt"

	"horse.fit/trendwatch/internal/retry"
)

// Execution error codes recorded on failed job_executions rows.
const (
	CodeConfigMissing = "CONFIG_MISSING"
	CodeTimeout       = "TIMEOUT"
	CodeTransientIO   = "TRANSIENT_IO"
	CodeValidation    = "VALIDATION"
	CodeInternal      = "INTERNAL"
)

// ExecError attaches a taxonomy code to an execution failure.
type ExecError struct {
	Code string
	Err  error
}

func (e *ExecError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

func execErr(code string, err error) *ExecError {
	return &ExecError{Code: code, Err: err}
}

// classify maps an invocation error onto the taxonomy. Explicit ExecError
// codes win; otherwise deadline errors become TIMEOUT and transient network
// failures become TRANSIENT_IO.
func classify(err error) string {
	var execError *ExecError
	if errors.As(err, &execError) {
		return execError.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if retry.IsTransient(err) {
		return CodeTransientIO
	}
	return CodeInternal
}
