package core

import "fmt"

// Code is an abstract error classification, stable across error messages.
type Code string

const (
	CodeValidation             Code = "VALIDATION"
	CodeNotFound               Code = "NOT_FOUND"
	CodeTransient              Code = "TRANSIENT"
	CodeWorkflowInactive       Code = "WORKFLOW_INACTIVE"
	CodeAgentInactive          Code = "AGENT_INACTIVE"
	CodeToolNotFound           Code = "TOOL_NOT_FOUND"
	CodeInvalidInput           Code = "INVALID_INPUT"
	CodeToolExecutionFailed    Code = "TOOL_EXECUTION_FAILED"
	CodeStepTimeout            Code = "STEP_TIMEOUT"
	CodeIterationLimitExceeded Code = "ITERATION_LIMIT_EXCEEDED"
	CodeDeadlockDetected       Code = "DEADLOCK_DETECTED"
	CodeApprovalRejected       Code = "APPROVAL_REJECTED"
	CodeApprovalTimedOut       Code = "APPROVAL_TIMED_OUT"
	CodeAlreadyResolved        Code = "ALREADY_RESOLVED"
	CodeNotPublic              Code = "NOT_PUBLIC"
	CodeInvalidCondition       Code = "INVALID_CONDITION"
	CodeCancelled              Code = "CANCELLED"
)

// Error is the orchestrator's uniform application error type. It carries a
// stable Code for programmatic handling alongside a human Message and
// arbitrary structured Details, and preserves the wrapped cause for errors.Is/As.
type Error struct {
	Message string
	Code    Code
	Details map[string]any
	cause   error
}

// NewError constructs an Error wrapping cause (may be nil) under code, with
// optional structured details.
func NewError(cause error, code Code, details map[string]any) *Error {
	msg := string(code)
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Message: msg,
		Code:    code,
		Details: details,
		cause:   cause,
	}
}

// NewErrorf constructs an Error from a formatted message, with no wrapped cause.
func NewErrorf(code Code, format string, args ...any) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// AsMap renders the error as a plain map suitable for JSON responses, as used
// at execution-terminal boundaries (`{success:false, error:<code+message>}`).
func (e *Error) AsMap() map[string]any {
	if e == nil {
		return nil
	}
	m := map[string]any{
		"code":    string(e.Code),
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		m["details"] = e.Details
	}
	return m
}

// IsRetryable reports whether the error's code denotes a condition the step
// retry policy should act on.
func (e *Error) IsRetryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeTransient, CodeStepTimeout:
		return true
	default:
		return false
	}
}
