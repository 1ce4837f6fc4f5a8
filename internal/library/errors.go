// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package library

import "errors"

var (
	// ErrNotFound is returned when no record exists for the given TMDB id.
	ErrNotFound = errors.New("library: record not found")

	// ErrPersistence wraps storage failures. A sync run that hits one aborts
	// with status failed and leaves the library untouched.
	ErrPersistence = errors.New("library: persistence failure")

	// ErrFieldNotEditable is returned when an edit names an unknown field.
	ErrFieldNotEditable = errors.New("library: field not editable")
)
