package main

import (
	"errors"

	"vpo/internal/services"
)

// Exit codes reported to callers: 0 success, 1 partial failure, 2 aborted
// batch, 3 invalid policy or arguments.
const (
	exitPartialFailure = 1
	exitAborted        = 2
	exitInvalid        = 3
)

// exitCodeError carries an explicit process exit code through cobra.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }

func (e *exitCodeError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.code
	}
	if errors.Is(err, services.ErrValidation) {
		return exitInvalid
	}
	return exitPartialFailure
}
