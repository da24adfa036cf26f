// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hashutil provides fast non-cryptographic hashing helpers used for
// content fingerprints, such as detecting renamed files under a title that
// leave modification times untouched.
package hashutil

import (
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns a stable xxhash digest over the given values. The
// input is sorted before hashing so ordering does not affect the result.
// An empty input yields 0.
func Fingerprint(values []string) uint64 {
	if len(values) == 0 {
		return 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	d := xxhash.New()
	for _, v := range sorted {
		_, _ = d.WriteString(v)
		// separator so {"ab","c"} and {"a","bc"} hash differently
		_, _ = d.Write([]byte{0})
	}

	return d.Sum64()
}
