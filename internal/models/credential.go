// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package models

import "time"

// Credential holds the OAuth token state for the primary aggregator source.
// It is owned exclusively by the auth manager: loaded once at startup,
// persisted on every refresh, and exposed to other components only as an
// opaque bearer string.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ObtainedAt   time.Time `json:"obtained_at"`

	// ExpiresAt is zero for providers that issue non-expiring tokens; such
	// credentials are never refreshed proactively.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expiring reports whether the token carries an expiry at all.
func (c *Credential) Expiring() bool {
	return !c.ExpiresAt.IsZero()
}

// ExpiresWithin reports whether less than margin remains before expiry.
// Non-expiring credentials never report true.
func (c *Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if !c.Expiring() {
		return false
	}
	return now.Add(margin).After(c.ExpiresAt)
}
