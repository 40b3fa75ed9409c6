// Package secrets seals the bank access token before it reaches the store.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"burnrate/internal/core"
	"burnrate/internal/ports"
)

const (
	KeySize   = 32
	nonceSize = 24
)

var ErrMalformed = errors.New("sealed value is malformed")

// Sealer encrypts short secrets with a static symmetric key.
type Sealer struct {
	key [KeySize]byte
}

// NewSealer parses a 32-byte hex key.
func NewSealer(hexKey string) (*Sealer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("secret key: want %d bytes, got %d", KeySize, len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// Seal returns base64(nonce || box).
func (s *Sealer) Seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrMalformed
	}
	return string(plain), nil
}

// Tokens reads and opens the stored access token on every call, so a token
// replaced mid-sync is picked up by the next request.
type Tokens struct {
	store  ports.SettingsStore
	sealer *Sealer
}

func NewTokens(store ports.SettingsStore, sealer *Sealer) *Tokens {
	return &Tokens{store: store, sealer: sealer}
}

func (t *Tokens) Token(ctx context.Context, userID string) (string, error) {
	v, ok, err := t.store.Setting(ctx, userID, ports.KeyToken)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return "", core.ErrTokenMissing
	}
	plain, err := t.sealer.Open(v)
	if err != nil {
		return "", fmt.Errorf("open token: %w: %w", core.ErrUnauthorized, err)
	}
	return plain, nil
}

// Store seals token and writes it to the user's settings.
func (t *Tokens) Store(ctx context.Context, userID, token string) error {
	sealed, err := t.sealer.Seal(token)
	if err != nil {
		return err
	}
	return t.store.SetSetting(ctx, userID, ports.KeyToken, sealed)
}
