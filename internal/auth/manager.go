// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/cinelog/internal/logging"
	"github.com/tomtom215/cinelog/internal/metrics"
	"github.com/tomtom215/cinelog/internal/models"
)

// ManagerConfig holds the settings for a credential Manager.
type ManagerConfig struct {
	Provider      models.Provider
	RefreshMargin time.Duration
	CallbackHost  string
	CallbackPort  int
	AuthTimeout   time.Duration
}

// Manager owns the OAuth credential lifecycle for one provider: it hands out
// valid access tokens, refreshes expiring ones, and runs the interactive
// authorization flow when refresh is no longer possible.
//
// All methods are safe for concurrent use. Token refresh is single-flight:
// concurrent GetValidToken calls during a refresh share one result.
type Manager struct {
	cfg   ManagerConfig
	store *CredentialStore
	oauth OAuthClient

	mu             sync.Mutex
	pendingState   string
	pendingExpires time.Time
	callback       *callbackListener

	hookMu       sync.Mutex
	onAuthorized []func()
}

// NewManager creates a credential manager for the configured provider.
func NewManager(cfg ManagerConfig, store *CredentialStore, oauth OAuthClient) *Manager {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = 5 * time.Minute
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Minute
	}
	if cfg.CallbackHost == "" {
		cfg.CallbackHost = "localhost"
	}
	return &Manager{cfg: cfg, store: store, oauth: oauth}
}

// OnAuthorized registers a hook invoked after a successful interactive
// authorization. The sync scheduler uses this to resume from suspension.
func (m *Manager) OnAuthorized(fn func()) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onAuthorized = append(m.onAuthorized, fn)
}

// GetValidToken returns an access token that is valid for at least the
// configured refresh margin, refreshing the stored credential if needed.
// Returns ErrReauthRequired when no credential exists or refresh fails.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.store.Load(ctx, m.cfg.Provider)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return "", fmt.Errorf("%w: no credential for %s", ErrReauthRequired, m.cfg.Provider)
		}
		return "", fmt.Errorf("load credential: %w", err)
	}

	if !cred.ExpiresWithin(time.Now(), m.cfg.RefreshMargin) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		metrics.ReauthRequired.Inc()
		return "", fmt.Errorf("%w: token expiring and no refresh token", ErrReauthRequired)
	}

	refreshed, err := m.oauth.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		metrics.ReauthRequired.Inc()
		logging.Warn().Err(err).Str("provider", string(m.cfg.Provider)).Msg("Token refresh failed")
		return "", fmt.Errorf("%w: refresh failed: %s", ErrReauthRequired, err.Error())
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()

	if err := m.store.Save(ctx, m.cfg.Provider, refreshed); err != nil {
		return "", fmt.Errorf("persist refreshed credential: %w", err)
	}

	logging.Info().Str("provider", string(m.cfg.Provider)).Msg("Access token refreshed")
	return refreshed.AccessToken, nil
}

// StartAuthorization begins the interactive authorization flow: it mints a
// fresh state token, starts the loopback callback listener, and returns the
// URL the user must visit. Starting a new flow invalidates any prior state
// token.
func (m *Manager) StartAuthorization(ctx context.Context) (authURL string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := uuid.NewString()
	m.pendingState = state
	m.pendingExpires = time.Now().Add(m.cfg.AuthTimeout)

	if m.callback == nil {
		listener, err := newCallbackListener(m.cfg.CallbackHost, m.cfg.CallbackPort, m)
		if err != nil {
			return "", fmt.Errorf("start callback listener: %w", err)
		}
		m.callback = listener
		listener.serveUntil(m.cfg.AuthTimeout)
	}

	redirectURI := m.redirectURI()
	logging.Info().
		Str("provider", string(m.cfg.Provider)).
		Str("redirect_uri", redirectURI).
		Msg("Authorization flow started")

	return m.oauth.AuthorizationURL(state, redirectURI), nil
}

// CompleteAuthorization validates the callback state token, exchanges the
// authorization code, and persists the resulting credential.
func (m *Manager) CompleteAuthorization(ctx context.Context, state, code string) error {
	m.mu.Lock()

	if m.pendingState == "" || state != m.pendingState || time.Now().After(m.pendingExpires) {
		m.mu.Unlock()
		return ErrStateMismatch
	}
	// Single use: invalidate before the exchange so a replayed callback fails.
	m.pendingState = ""

	cred, err := m.oauth.Exchange(ctx, code, m.redirectURI())
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	if err := m.store.Save(ctx, m.cfg.Provider, cred); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("persist credential: %w", err)
	}

	if m.callback != nil {
		m.callback.stop()
		m.callback = nil
	}
	m.mu.Unlock()

	logging.Info().Str("provider", string(m.cfg.Provider)).Msg("Authorization complete")

	m.hookMu.Lock()
	hooks := make([]func(), len(m.onAuthorized))
	copy(hooks, m.onAuthorized)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	return nil
}

// Status reports whether a credential is stored and when it expires.
// A zero expiry means the token does not expire.
func (m *Manager) Status(ctx context.Context) (authorized bool, expiresAt time.Time, err error) {
	cred, err := m.store.Load(ctx, m.cfg.Provider)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	return true, cred.ExpiresAt, nil
}

// Deauthorize removes the stored credential.
func (m *Manager) Deauthorize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingState = ""
	return m.store.Delete(ctx, m.cfg.Provider)
}

// expirePending drops a pending state whose flow timed out.
// Called by the callback listener when it shuts down on deadline.
func (m *Manager) expirePending(listener *callbackListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callback == listener {
		m.callback = nil
		m.pendingState = ""
	}
}

func (m *Manager) redirectURI() string {
	return fmt.Sprintf("http://%s:%d/callback", m.cfg.CallbackHost, m.cfg.CallbackPort)
}
