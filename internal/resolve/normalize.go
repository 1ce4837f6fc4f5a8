// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package resolve

import (
	"strings"
	"unicode"
)

// NormalizeTitle produces the canonical comparison form of a movie title:
// case-folded, punctuation stripped, whitespace collapsed to single spaces.
// "The Godfather: Part II" and "the godfather  part ii" normalize equal.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	lastSpace := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// punctuation and symbols: treat as a word boundary so
			// "Face/Off" does not collapse into "faceoff" in one source
			// and "face off" in another
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimRight(b.String(), " ")
}
