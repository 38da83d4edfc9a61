// Package encrypted wraps a storage.DurableStore so that every value is
// encrypted at rest with AES-256-GCM.
package encrypted

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/crypto"
)

// KeySalt holds the argon2id salt in the inner store, unencrypted.
const KeySalt = "encryption_salt"

var _ storage.DurableStore = (*Store)(nil)

// Store encrypts values before handing them to the inner store.
type Store struct {
	inner storage.DurableStore
	key   []byte
}

// New derives the store key from passphrase. A salt is generated and saved on
// first use.
func New(ctx context.Context, inner storage.DurableStore, passphrase string) (*Store, error) {
	salt, err := inner.Load(ctx, KeySalt)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		salt, err = crypto.GenerateSalt()
		if err != nil {
			return nil, err
		}
		if err := inner.Save(ctx, KeySalt, salt); err != nil {
			return nil, fmt.Errorf("failed to save salt: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load salt: %w", err)
	}

	key, err := crypto.DeriveStoreKey(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive store key: %w", err)
	}

	return &Store{inner: inner, key: key}, nil
}

// Load decrypts the value stored under key. A value written under a different
// key or passphrase fails authentication.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if key == KeySalt {
		return nil, fmt.Errorf("key %q is reserved", key)
	}

	sealed, err := s.inner.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	plaintext, err := crypto.Open(sealed, s.key, key)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", key, err)
	}
	return plaintext, nil
}

// Save encrypts data and stores it under key.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	if key == KeySalt {
		return fmt.Errorf("key %q is reserved", key)
	}

	sealed, err := crypto.Seal(data, s.key, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}
	return s.inner.Save(ctx, key, sealed)
}

// Remove deletes key from the inner store.
func (s *Store) Remove(ctx context.Context, key string) error {
	if key == KeySalt {
		return fmt.Errorf("key %q is reserved", key)
	}
	return s.inner.Remove(ctx, key)
}
