// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import (
	"errors"
	"fmt"
)

// TransientError marks a catalog call that failed in a way worth
// retrying: connection failures, timeouts, and HTTP 5xx responses.
type TransientError struct {
	Status int // zero when no response was received
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("catalog returned status %d", e.Status)
	}
	return fmt.Sprintf("catalog request failed: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a catalog response that will not succeed on
// retry, typically auth failures and other non-5xx error statuses.
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("catalog returned status %d", e.Status)
	}
	return fmt.Sprintf("catalog returned status %d: %s", e.Status, e.Body)
}

// IsTransient reports whether err is a retryable catalog failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a non-retryable catalog failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
