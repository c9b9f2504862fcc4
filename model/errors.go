// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// RetryableError marks a transient model failure worth retrying.
type RetryableError struct {
	msg string
	err error
}

func (e *RetryableError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *RetryableError) Unwrap() error { return e.err }

// Retryable wraps err as transient.
func Retryable(err error, format string, args ...interface{}) error {
	return &RetryableError{msg: fmt.Sprintf(format, args...), err: err}
}

// PermanentError marks a model refusal that retries cannot fix. Msg is short
// and safe to show to the user.
type PermanentError struct {
	Msg string
	err error
}

func (e *PermanentError) Error() string {
	if e.err != nil {
		return e.Msg + ": " + e.err.Error()
	}
	return e.Msg
}

func (e *PermanentError) Unwrap() error { return e.err }

// Permanent wraps err as non-retryable.
func Permanent(err error, format string, args ...interface{}) error {
	return &PermanentError{Msg: fmt.Sprintf(format, args...), err: err}
}

// IsRetryable reports whether err is marked transient.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
