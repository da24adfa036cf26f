// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package languages resolves free-form language tokens (ISO codes, display
// names, regional variants) into alias sets used for audio-track matching.
package languages

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/autobrr/dubarr/pkg/stringutils"
)

// regionSuffixes absorb player-reported regional tags like "en-us". Every
// token in an alias set is expanded with each of these.
var regionSuffixes = []string{"us", "gb", "ca", "au", "fr", "de", "jp", "kr", "cn", "tw", "ru"}

type registryEntry struct {
	iso2 string
	iso3 string
	name string
}

var (
	// registry holds every two-letter ISO 639-1 language with an English
	// display name, enumerated once at package init.
	registry []registryEntry

	// fuzzyNames is index-aligned with registry and holds the normalized
	// display names the fuzzy fallback searches over.
	fuzzyNames []string

	byToken map[string]int
)

func init() {
	namer := display.English.Languages()
	byToken = make(map[string]int)

	for c1 := byte('a'); c1 <= 'z'; c1++ {
		for c2 := byte('a'); c2 <= 'z'; c2++ {
			code := string([]byte{c1, c2})

			base, err := language.ParseBase(code)
			if err != nil || base.String() != code {
				// Unassigned code, or a deprecated alias for another base.
				continue
			}

			name := namer.Name(base)
			if name == "" {
				continue
			}

			idx := len(registry)
			registry = append(registry, registryEntry{
				iso2: code,
				iso3: base.ISO3(),
				name: name,
			})
			fuzzyNames = append(fuzzyNames, normalizeToken(name))

			for _, token := range []string{code, base.ISO3(), normalizeToken(name)} {
				if _, ok := byToken[token]; !ok {
					byToken[token] = idx
				}
			}
		}
	}
}

func normalizeToken(token string) string {
	return stringutils.FoldAccents(token)
}

// lookup resolves a token to a registry entry: exact code/name match first,
// then the registry parser for code forms it knows that we do not index
// (deprecated two-letter codes, alternate three-letter codes), then a fuzzy
// match over display names. A regional suffix is stripped and the bare token
// retried so "en-us" resolves like "en".
func lookup(token string) (registryEntry, bool) {
	token = normalizeToken(token)
	if token == "" {
		return registryEntry{}, false
	}

	if idx, ok := byToken[token]; ok {
		return registry[idx], true
	}

	if len(token) == 2 || len(token) == 3 {
		if base, err := language.ParseBase(token); err == nil {
			if idx, ok := byToken[base.String()]; ok {
				return registry[idx], true
			}
		}
	}

	ranks := fuzzy.RankFindFold(token, fuzzyNames)
	if len(ranks) > 0 {
		sort.SliceStable(ranks, func(i, j int) bool {
			return ranks[i].Distance < ranks[j].Distance
		})
		return registry[ranks[0].OriginalIndex], true
	}

	if base, _, found := strings.Cut(token, "-"); found && base != "" {
		return lookup(base)
	}

	return registryEntry{}, false
}

// Aliases returns the set of tokens equivalent to the given language code or
// name: its two-letter code, three-letter code, lowercase display name, and
// regional variants of each. Empty or unresolvable input yields an empty
// set, never an error.
func Aliases(token string) map[string]struct{} {
	aliases := make(map[string]struct{})

	entry, ok := lookup(token)
	if !ok {
		return aliases
	}

	aliases[entry.iso2] = struct{}{}
	aliases[entry.iso3] = struct{}{}
	aliases[normalizeToken(entry.name)] = struct{}{}

	base := make([]string, 0, len(aliases))
	for alias := range aliases {
		base = append(base, alias)
	}
	for _, alias := range base {
		for _, region := range regionSuffixes {
			aliases[alias+"-"+region] = struct{}{}
		}
	}

	return aliases
}

// PrimaryCode reduces a token to its two-letter code. Unknown tokens fall
// back to the first two characters of the lowercased input; the fallback is
// lossy and only used for compact display, never for comparison.
func PrimaryCode(token string) string {
	if entry, ok := lookup(token); ok {
		return entry.iso2
	}

	normalized := strings.ToLower(strings.TrimSpace(token))
	if len(normalized) > 2 {
		return normalized[:2]
	}

	return normalized
}

// BuildLanguageCodes unions the alias sets of every target language
// configured for an instance. Computed once per scan pass and passed down.
func BuildLanguageCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{})

	for _, token := range tokens {
		for alias := range Aliases(token) {
			codes[alias] = struct{}{}
		}
	}

	return codes
}
