// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package redact scrubs credentials from values that end up in logs and
// error messages, such as catalog request URLs carrying API keys.
package redact

import (
	"errors"
	"net/url"
	"strings"
)

var sensitiveParams = []string{
	"apikey",
	"api_key",
	"passkey",
	"password",
	"secret",
	"token",
}

// URLError returns err with any embedded url.Error's URL query credentials
// replaced by REDACTED. Non-URL errors are returned unchanged; nil stays nil.
// The url.Error type is preserved so callers can still match on it.
func URLError(err error) error {
	if err == nil {
		return nil
	}

	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}

	return &url.Error{
		Op:  urlErr.Op,
		URL: URLString(urlErr.URL),
		Err: urlErr.Err,
	}
}

// URLString redacts sensitive query parameter values in a raw URL string.
// If the URL cannot be parsed the whole query is dropped rather than risk
// leaking a credential.
func URLString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if idx := strings.IndexByte(raw, '?'); idx >= 0 {
			return raw[:idx] + "?REDACTED"
		}
		return raw
	}

	q := u.Query()
	changed := false
	for key := range q {
		if isSensitiveParam(key) {
			q.Set(key, "REDACTED")
			changed = true
		}
	}

	if changed {
		u.RawQuery = q.Encode()
	}

	return u.String()
}

func isSensitiveParam(key string) bool {
	key = strings.ToLower(key)
	for _, param := range sensitiveParams {
		if key == param {
			return true
		}
	}
	return false
}
