// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/cinelog/internal/models"
)

// CredentialStore persists OAuth credentials in Badger, with token values
// encrypted at rest when an encryptor is configured.
type CredentialStore struct {
	db        *badger.DB
	encryptor *TokenEncryptor
}

const credentialKeyPrefix = "credential:"

// NewCredentialStore creates a credential store backed by the given Badger
// database. encryptor may be nil (tokens stored in plaintext).
func NewCredentialStore(db *badger.DB, encryptor *TokenEncryptor) *CredentialStore {
	return &CredentialStore{db: db, encryptor: encryptor}
}

// Save persists the credential for a provider, replacing any existing one.
func (s *CredentialStore) Save(ctx context.Context, provider models.Provider, cred *models.Credential) error {
	stored := *cred

	var err error
	if stored.AccessToken, err = s.encryptor.Encrypt(cred.AccessToken); err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	if stored.RefreshToken, err = s.encryptor.Encrypt(cred.RefreshToken); err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(credentialKey(provider), data)
	})
}

// Load retrieves the credential for a provider.
// Returns ErrNoCredential if none has been stored.
func (s *CredentialStore) Load(ctx context.Context, provider models.Provider) (*models.Credential, error) {
	var data []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(credentialKey(provider))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNoCredential
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	var cred models.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}

	if cred.AccessToken, err = s.encryptor.Decrypt(cred.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if cred.RefreshToken, err = s.encryptor.Decrypt(cred.RefreshToken); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	return &cred, nil
}

// Delete removes the stored credential for a provider.
// Deleting a missing credential is not an error.
func (s *CredentialStore) Delete(ctx context.Context, provider models.Provider) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(credentialKey(provider))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func credentialKey(provider models.Provider) []byte {
	return []byte(credentialKeyPrefix + string(provider))
}
