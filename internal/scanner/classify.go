// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scanner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/moistari/rls"

	"github.com/autobrr/dubarr/internal/languages"
	"github.com/autobrr/dubarr/internal/mediainfo"
	"github.com/autobrr/dubarr/internal/models"
)

// TagDecision is the title-level dub status mirrored into the catalog.
// At most one managed tag is active per title.
type TagDecision string

const (
	DecisionFully   TagDecision = "fully-dubbed"
	DecisionPartial TagDecision = "partially-dubbed"
	DecisionWrong   TagDecision = "wrong-dubbed"
	DecisionNone    TagDecision = "none"
)

// SeasonStatus classifies one season folder.
type SeasonStatus string

const (
	SeasonOriginal SeasonStatus = "original"
	SeasonSemiDub  SeasonStatus = "semi-dub"
	SeasonFullyDub SeasonStatus = "fully-dub"
	SeasonWrongDub SeasonStatus = "wrong-dub"
)

// targetPolicy is the instance's target languages resolved to alias
// sets, computed once per scan pass.
type targetPolicy struct {
	targets []string
	sets    map[string]map[string]struct{}
	union   map[string]struct{}
}

func newTargetPolicy(targetLanguages []string) targetPolicy {
	policy := targetPolicy{
		targets: targetLanguages,
		sets:    make(map[string]map[string]struct{}, len(targetLanguages)),
		union:   languages.BuildLanguageCodes(targetLanguages),
	}
	for _, target := range targetLanguages {
		policy.sets[target] = languages.Aliases(target)
	}
	return policy
}

// trackClassification is the per-file result of matching detected
// audio-track tokens against the target policy and original language.
type trackClassification struct {
	Original   bool
	Sentinel   bool
	Matched    []string
	Missing    []string
	Unexpected []string
}

// classifyTracks buckets each detected token. A token in both the
// target set and the original alias set counts as a dub match, so a
// title whose original language is also a target reads as dubbed.
func classifyTracks(tokens []string, originalSet map[string]struct{}, policy targetPolicy) trackClassification {
	var tc trackClassification
	detected := make(map[string]struct{}, len(tokens))

	for _, token := range tokens {
		if token == mediainfo.AssumeOriginal {
			tc.Original = true
			tc.Sentinel = true
			continue
		}
		detected[token] = struct{}{}

		if _, ok := policy.union[token]; ok {
			tc.Matched = append(tc.Matched, token)
			continue
		}
		if _, ok := originalSet[token]; ok {
			tc.Original = true
			continue
		}
		tc.Unexpected = append(tc.Unexpected, token)
	}

	for _, target := range policy.targets {
		found := false
		for alias := range policy.sets[target] {
			if _, ok := detected[alias]; ok {
				found = true
				break
			}
		}
		if !found {
			tc.Missing = append(tc.Missing, target)
		}
	}

	return tc
}

// episodeID derives a compact identifier from a video file name,
// falling back to the extensionless name when release parsing finds no
// season/episode numbering.
func episodeID(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))

	r := rls.ParseString(base)
	if r.Series > 0 && r.Episode > 0 {
		return fmt.Sprintf("S%02dE%02d", r.Series, r.Episode)
	}
	return base
}

func seasonStatus(stats *SeasonStats) SeasonStatus {
	switch {
	case len(stats.Unexpected) > 0:
		return SeasonWrongDub
	case len(stats.Dubbed) > 0 && len(stats.Missing) == 0:
		return SeasonFullyDub
	case len(stats.Dubbed) > 0:
		return SeasonSemiDub
	default:
		return SeasonOriginal
	}
}

func rollupDecision(seasons map[string]*SeasonStats) TagDecision {
	if len(seasons) == 0 {
		return DecisionNone
	}

	allFully := true
	anyDub := false
	for _, stats := range seasons {
		switch stats.Status {
		case SeasonWrongDub:
			return DecisionWrong
		case SeasonFullyDub:
			anyDub = true
		case SeasonSemiDub:
			allFully = false
			anyDub = true
		default:
			allFully = false
		}
	}

	if allFully {
		return DecisionFully
	}
	if anyDub {
		return DecisionPartial
	}
	return DecisionNone
}

func movieDecision(tc trackClassification) TagDecision {
	switch {
	case len(tc.Unexpected) > 0:
		return DecisionWrong
	case len(tc.Missing) == 0:
		return DecisionFully
	default:
		return DecisionNone
	}
}

func activeTagName(instance *models.Instance, decision TagDecision) string {
	switch decision {
	case DecisionFully:
		return instance.DubTag
	case DecisionPartial:
		return instance.SemiDubTag
	case DecisionWrong:
		return instance.WrongDubTag
	default:
		return ""
	}
}

func managedTagNames(instance *models.Instance) []string {
	return []string{instance.DubTag, instance.SemiDubTag, instance.WrongDubTag}
}

// tagDelta translates a decision into the add/remove sets for the
// catalog diff-apply. Managed tags equal to the active one are kept
// out of the remove set so duplicate tag names cannot fight.
func tagDelta(instance *models.Instance, decision TagDecision) (add, remove []string) {
	active := activeTagName(instance, decision)
	if active != "" {
		add = []string{active}
	}
	for _, tag := range managedTagNames(instance) {
		if active != "" && strings.EqualFold(tag, active) {
			continue
		}
		remove = append(remove, tag)
	}
	return add, remove
}

// genreAllowed reports whether a title passes the instance's genre
// filter. An empty filter admits everything.
func genreAllowed(filter, genres []string) bool {
	if len(filter) == 0 {
		return true
	}

	for _, want := range filter {
		want = strings.TrimSpace(want)
		for _, genre := range genres {
			if strings.EqualFold(want, strings.TrimSpace(genre)) {
				return true
			}
		}
	}
	return false
}
