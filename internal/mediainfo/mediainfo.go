// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mediainfo inspects media files for audio-track languages via
// ffprobe.
package mediainfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Hellseher/go-shellquote"
	"github.com/rs/zerolog"
)

// AssumeOriginal marks an audio track with no language tag whose title is
// empty or first-track-like. The scanner counts such a track toward the
// title's original language and skips policy checks for it.
const AssumeOriginal = "assume-original"

const probeTimeout = 60 * time.Second

type probeResult struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	Index     int               `json:"index"`
	CodecType string            `json:"codec_type"`
	Tags      map[string]string `json:"tags"`
}

// Inspector runs ffprobe against media files.
type Inspector struct {
	binary string
	args   []string
	log    zerolog.Logger
}

// NewInspector parses the configured ffprobe command. An empty command means
// plain "ffprobe" from PATH; additional words become leading arguments.
func NewInspector(ffprobeCommand string, logger zerolog.Logger) (*Inspector, error) {
	words, err := shellquote.Split(strings.TrimSpace(ffprobeCommand))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe command %q: %w", ffprobeCommand, err)
	}

	inspector := &Inspector{
		binary: "ffprobe",
		log:    logger.With().Str("component", "mediainfo").Logger(),
	}
	if len(words) > 0 {
		inspector.binary = words[0]
		inspector.args = words[1:]
	}

	return inspector, nil
}

// AnalyzeAudio returns the distinct audio-track language tokens of a media
// file, in stream order. Untagged tracks either become the AssumeOriginal
// sentinel or are dropped, depending on their title.
func (i *Inspector) AnalyzeAudio(ctx context.Context, path string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := append(append([]string{}, i.args...),
		"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)

	output, err := exec.CommandContext(ctx, i.binary, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe failed for %s: %w: %s", path, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}

	return i.collectLanguages(path, result.Streams), nil
}

func (i *Inspector) collectLanguages(path string, streams []probeStream) []string {
	languages := make([]string, 0, 2)
	seen := make(map[string]struct{})

	for _, stream := range streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}

		token := streamLanguage(stream.Tags)
		if token == "" || token == "und" {
			title := streamTitle(stream.Tags)
			if !isPrimaryTrackTitle(title) {
				i.log.Debug().
					Str("path", path).
					Int("stream", stream.Index).
					Str("title", title).
					Msg("Skipping audio track without language tag")
				continue
			}
			token = AssumeOriginal
		}

		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		languages = append(languages, token)
	}

	return languages
}

func streamLanguage(tags map[string]string) string {
	for _, key := range []string{"language", "lang"} {
		for tagKey, value := range tags {
			if strings.EqualFold(tagKey, key) {
				return strings.ToLower(strings.TrimSpace(value))
			}
		}
	}

	return ""
}

func streamTitle(tags map[string]string) string {
	for tagKey, value := range tags {
		if strings.EqualFold(tagKey, "title") {
			return strings.ToLower(strings.TrimSpace(value))
		}
	}

	return ""
}

// isPrimaryTrackTitle reports whether an untagged track's title suggests it
// is the file's primary audio, like players name their default track.
func isPrimaryTrackTitle(title string) bool {
	return title == "" || strings.Contains(title, "track 1") || strings.Contains(title, "audio 1")
}
