// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth stores the backend API token encrypted at rest.
//
// The token is sealed with AES-256-GCM under a key derived via
// PBKDF2-SHA-256 from a random machine-local secret kept alongside the
// ciphertext with owner-only permissions. This keeps the token out of
// plain sight in backups and sync'd home directories; it is not a
// defense against an attacker with local file access.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/optiq-tui/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// NonceSize is the size of the nonce for AES-GCM (12 bytes / 96 bits).
const NonceSize = 12

// KeySize is the size of the AES-256 key (32 bytes / 256 bits).
const KeySize = 32

// SaltSize is the size of the salt for key derivation (32 bytes).
const SaltSize = 32

// PBKDF2Iterations is the iteration count for PBKDF2-SHA-256.
const PBKDF2Iterations = 600000

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoToken indicates no token has been stored yet.
	ErrNoToken = errors.New("no API token stored: run 'optiq auth login'")
	// ErrInvalidCiphertext indicates the token file format is invalid.
	ErrInvalidCiphertext = errors.New("invalid token file format")
	// ErrDecryptionFailed indicates decryption failed (tampered or foreign key material).
	ErrDecryptionFailed = errors.New("token decryption failed: authentication tag mismatch")
)

// zeroBytes zeros sensitive byte slices to limit memory disclosure.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// TOKEN STORE
// =============================================================================

// TokenStore manages the encrypted API token on disk. The OPTIQ_TOKEN
// environment variable, when set, takes precedence over the stored
// token and is never written to disk.
type TokenStore struct {
	mu     sync.RWMutex
	dir    string
	cached string
}

// NewTokenStore creates a token store rooted at dir (the optiq config
// directory).
func NewTokenStore(dir string) *TokenStore {
	return &TokenStore{dir: dir}
}

func (s *TokenStore) tokenPath() string  { return filepath.Join(s.dir, "token.enc") }
func (s *TokenStore) secretPath() string { return filepath.Join(s.dir, "token.key") }

// Provider returns a function suitable for per-request token lookup.
// The environment override is re-read on every call so a rotated token
// takes effect without restart.
func (s *TokenStore) Provider() func() string {
	return func() string {
		if v := os.Getenv("OPTIQ_TOKEN"); v != "" {
			return v
		}
		tok, err := s.Load()
		if err != nil {
			return ""
		}
		return tok
	}
}

// Set encrypts and stores the token.
func (s *TokenStore) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}

	key, err := s.loadOrCreateKey()
	if err != nil {
		return err
	}
	defer zeroBytes(key)

	aead, err := newAEAD(key)
	if err != nil {
		return err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(token), nil)
	if err := util.AtomicWriteFileWithDir(s.tokenPath(), sealed, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	s.cached = token
	return nil
}

// Load decrypts and returns the stored token.
func (s *TokenStore) Load() (string, error) {
	s.mu.RLock()
	if s.cached != "" {
		tok := s.cached
		s.mu.RUnlock()
		return tok, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" {
		return s.cached, nil
	}

	sealed, err := os.ReadFile(s.tokenPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	if len(sealed) < NonceSize {
		return "", ErrInvalidCiphertext
	}

	key, err := s.loadOrCreateKey()
	if err != nil {
		return "", err
	}
	defer zeroBytes(key)

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	s.cached = string(plaintext)
	return s.cached, nil
}

// Clear removes the stored token and key material.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = ""
	var firstErr error
	for _, p := range []string{s.tokenPath(), s.secretPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HasToken reports whether a token is available from the environment or
// disk.
func (s *TokenStore) HasToken() bool {
	if os.Getenv("OPTIQ_TOKEN") != "" {
		return true
	}
	_, err := s.Load()
	return err == nil
}

// =============================================================================
// KEY MATERIAL
// =============================================================================

// loadOrCreateKey loads the machine-local secret and derives the AES
// key. The secret file holds salt || secret; both halves are random and
// generated on first use.
func (s *TokenStore) loadOrCreateKey() ([]byte, error) {
	raw, err := os.ReadFile(s.secretPath())
	if os.IsNotExist(err) {
		raw = make([]byte, SaltSize+KeySize)
		if _, err := io.ReadFull(rand.Reader, raw); err != nil {
			return nil, fmt.Errorf("failed to generate key material: %w", err)
		}
		if err := util.AtomicWriteFileWithDir(s.secretPath(), raw, 0600, 0700); err != nil {
			return nil, fmt.Errorf("failed to write key file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if len(raw) != SaltSize+KeySize {
		return nil, ErrInvalidCiphertext
	}

	salt, secret := raw[:SaltSize], raw[SaltSize:]
	return pbkdf2.Key(secret, salt, PBKDF2Iterations, KeySize, sha256.New), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return gcm, nil
}
