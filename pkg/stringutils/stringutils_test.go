// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package stringutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase", "GERMAN", "german"},
		{"trim", "  japanese  ", "japanese"},
		{"both", "\tEnglish \n", "english"},
		{"empty", "", ""},
		{"already folded", "french", "french"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Fold(tt.input))
		})
	}
}

func TestFoldAccents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"diacritics", "Français", "francais"},
		{"tilde", "Español", "espanol"},
		{"cedilla trim", " Türkçe ", "turkce"},
		{"ring", "Norsk Bokmål", "norsk bokmal"},
		{"ligature ae", "nynorsk æ", "nynorsk ae"},
		{"eszett", "weißrussisch", "weissrussisch"},
		{"slashed o", "føroyskt", "foroyskt"},
		{"no accents", "italian", "italian"},
		{"cjk passes through", "日本語", "日本語"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, FoldAccents(tt.input))
		})
	}
}

func TestFoldAccentsAgreesWithFoldedInput(t *testing.T) {
	t.Parallel()

	// Pre-folded and raw spellings of the same token land on one key.
	assert.Equal(t, FoldAccents("FRANÇAIS"), FoldAccents("français"))
	assert.Equal(t, FoldAccents("Português"), FoldAccents(" portugues "))
}

func TestIntern(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Intern(""))
	assert.Equal(t, "english", Intern("english"))

	// Repeated folds of the same token return the identical value.
	a := Fold("  GERMAN ")
	b := Fold("german")
	assert.Equal(t, a, b)
}
