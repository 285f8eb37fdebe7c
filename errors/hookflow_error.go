package errors

import (
	"errors"
	"fmt"
)

type ErrCode uint32

// HookFlowError carries a stable code alongside the human-readable message,
// so callers can branch on the class of failure without string matching.
type HookFlowError struct {
	Code          ErrCode
	Message       string
	OriginalError error
}

func NewHookFlowError(code ErrCode, message string, err error) *HookFlowError {
	return &HookFlowError{
		Code:          code,
		Message:       message,
		OriginalError: err,
	}
}

func (e *HookFlowError) Error() string {
	if e.OriginalError == nil {
		return e.Message
	}
	return fmt.Sprintf("%s, OriginalError: %s", e.Message, e.OriginalError)
}

// Wrap returns a copy of the error with the original error attached.
// Sentinel values stay untouched, so wrapping is safe from concurrent calls.
func (e *HookFlowError) Wrap(err error) *HookFlowError {
	return &HookFlowError{
		Code:          e.Code,
		Message:       e.Message,
		OriginalError: err,
	}
}

func (e *HookFlowError) Unwrap() error {
	return e.OriginalError
}

// Is matches any HookFlowError with the same code, so wrapped copies
// still compare equal to their sentinel under errors.Is.
func (e *HookFlowError) Is(target error) bool {
	var hfErr *HookFlowError
	if !errors.As(target, &hfErr) {
		return false
	}
	return e.Code == hfErr.Code
}
