// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package auth

import "errors"

var (
	// ErrReauthRequired indicates that no usable credential exists and the
	// user must complete the interactive authorization flow. Sync against
	// the authenticated source cannot proceed until then.
	ErrReauthRequired = errors.New("re-authorization required")

	// ErrNoCredential indicates no credential has been stored yet.
	ErrNoCredential = errors.New("no stored credential")

	// ErrStateMismatch indicates the OAuth callback carried an unknown or
	// expired state token.
	ErrStateMismatch = errors.New("oauth state mismatch")

	// ErrAuthorizationPending indicates an authorization flow is already
	// waiting for its callback.
	ErrAuthorizationPending = errors.New("authorization already in progress")

	// ErrDecryptionFailed indicates the decryption operation failed.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidCiphertext indicates the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)
