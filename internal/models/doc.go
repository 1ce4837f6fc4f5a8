// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

// Package models defines the data types shared across Cinelog components.
//
// The sync pipeline transforms data through three shapes:
//
//	RawEntry      - source-native record, produced fresh each run, never persisted
//	ResolvedEntry - RawEntry plus canonical TMDB/IMDb identifiers
//	LibraryRecord - persisted unit, keyed by TMDB id, owned by the library store
//
// SyncRun describes one reconciliation pass and is kept in memory for the
// dashboard. Credential is the OAuth token state owned by the auth manager.
package models
