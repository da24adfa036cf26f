// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// RedactedStr is the placeholder substituted for secret values in API
// responses. Clients submit it back unchanged to mean "keep the current
// value".
const RedactedStr = "<redacted>"

// RedactString replaces a non-empty secret with the redaction placeholder.
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return RedactedStr
}

// IsRedactedString checks whether a submitted value is the redaction
// placeholder, meaning the stored secret should be kept.
func IsRedactedString(value string) bool {
	return value == RedactedStr
}
