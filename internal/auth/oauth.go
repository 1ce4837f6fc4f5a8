// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cinelog/internal/models"
)

// OAuthClient exchanges and refreshes tokens against an OAuth provider.
// Implementations talk to the provider's token endpoint.
type OAuthClient interface {
	// AuthorizationURL builds the URL the user must visit to grant access.
	AuthorizationURL(state, redirectURI string) string

	// Exchange trades an authorization code for a credential.
	Exchange(ctx context.Context, code, redirectURI string) (*models.Credential, error)

	// Refresh obtains a new credential using the refresh token.
	Refresh(ctx context.Context, refreshToken string) (*models.Credential, error)
}

// SimklOAuthClient implements the authorization code flow against Simkl.
type SimklOAuthClient struct {
	clientID     string
	clientSecret string
	authURL      string
	tokenURL     string
	httpClient   *http.Client
}

// NewSimklOAuthClient creates an OAuth client for Simkl.
func NewSimklOAuthClient(clientID, clientSecret, authURL, tokenURL string) *SimklOAuthClient {
	return &SimklOAuthClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		authURL:      authURL,
		tokenURL:     tokenURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// AuthorizationURL builds the consent page URL for the authorization code flow.
func (c *SimklOAuthClient) AuthorizationURL(state, redirectURI string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return c.authURL + "?" + q.Encode()
}

// tokenRequest is the JSON body sent to the Simkl token endpoint.
type tokenRequest struct {
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	GrantType    string `json:"grant_type"`
}

// tokenResponse is the JSON body returned by the Simkl token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
}

// Exchange trades an authorization code for a credential.
func (c *SimklOAuthClient) Exchange(ctx context.Context, code, redirectURI string) (*models.Credential, error) {
	return c.requestToken(ctx, &tokenRequest{
		Code:         code,
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURI:  redirectURI,
		GrantType:    "authorization_code",
	})
}

// Refresh obtains a new credential using the refresh token.
func (c *SimklOAuthClient) Refresh(ctx context.Context, refreshToken string) (*models.Credential, error) {
	cred, err := c.requestToken(ctx, &tokenRequest{
		RefreshToken: refreshToken,
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		GrantType:    "refresh_token",
	})
	if err != nil {
		return nil, err
	}
	// Providers may omit the refresh token on refresh; keep the old one.
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	return cred, nil
}

func (c *SimklOAuthClient) requestToken(ctx context.Context, reqBody *tokenRequest) (*models.Credential, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, fmt.Errorf("unmarshal token response: %w", err)
	}
	if tr.Error != "" {
		return nil, fmt.Errorf("token endpoint error: %s", tr.Error)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}

	now := time.Now().UTC()
	cred := &models.Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		ObtainedAt:   now,
	}
	if tr.ExpiresIn > 0 {
		cred.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return cred, nil
}
