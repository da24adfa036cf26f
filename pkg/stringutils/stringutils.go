// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stringutils folds strings that repeat heavily across scans
// into canonical, interned forms: language tokens, tag labels, and
// notification event names. Folded results are cached because the same
// handful of tokens is folded once per file during a library scan.
package stringutils

import (
	"strings"
	"time"
	"unicode"
	"unique"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const foldCacheTTL = 5 * time.Minute

// Intern returns the canonical copy of s via the unique package, so
// repeated tokens share memory and compare cheaply.
func Intern(s string) string {
	if s == "" {
		return ""
	}
	return unique.Make(s).Value()
}

// foldCache memoizes a fold function. Misses run the fold and store the
// interned result under the raw input.
type foldCache struct {
	entries *ttlcache.Cache[string, string]
	fold    func(string) string
}

func newFoldCache(fold func(string) string) *foldCache {
	return &foldCache{
		entries: ttlcache.New(ttlcache.Options[string, string]{}.SetDefaultTTL(foldCacheTTL)),
		fold:    fold,
	}
}

func (c *foldCache) get(s string) string {
	if v, ok := c.entries.Get(s); ok {
		return v
	}
	v := c.fold(s)
	c.entries.Set(s, v, ttlcache.DefaultTTL)
	return v
}

var (
	lowerTrim = newFoldCache(func(s string) string {
		return Intern(strings.ToLower(strings.TrimSpace(s)))
	})
	accentStripped = newFoldCache(func(s string) string {
		return Intern(stripAccents(strings.ToLower(strings.TrimSpace(s))))
	})
)

// Fold returns s trimmed, lowercased, and interned.
func Fold(s string) string {
	return lowerTrim.get(s)
}

// FoldAccents is Fold plus diacritic stripping and ligature
// decomposition, the lookup form for user-supplied language tokens:
// "Français" and "francais" fold to the same key. Characters without an
// ASCII decomposition pass through unchanged.
func FoldAccents(s string) string {
	return accentStripped.get(s)
}

// ligatures covers letters NFKD leaves alone because they are distinct
// letters rather than composed characters.
var ligatures = strings.NewReplacer(
	"æ", "ae",
	"œ", "oe",
	"ø", "o",
	"ß", "ss",
	"ð", "d",
	"þ", "th",
)

func stripAccents(s string) string {
	s = ligatures.Replace(s)

	// transform.Chain is not safe for concurrent reuse, so build it per
	// call. The cache keeps this off the hot path.
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
