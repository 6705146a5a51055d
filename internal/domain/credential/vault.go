package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

func newSHA256() hash.Hash { return sha256.New() }

// ErrKeyMaterialTooShort is returned when the external key source supplies
// fewer bytes than HKDF needs to derive a usable AES-256 key.
var ErrKeyMaterialTooShort = errors.New("credential: master key material too short")

// KeySource supplies the raw master key material used to derive the AES-256
// key the Vault encrypts credentials with. In production this is backed by
// an external secret manager, kept out of scope here; KeySource is the
// narrow port AILink consumes it through (e.g. a file-backed or
// env-var-backed implementation for tests and self-hosted deployments).
type KeySource interface {
	MasterKey(ctx context.Context) ([]byte, error)
}

// StaticKeySource is a KeySource backed by a fixed byte slice, used for
// tests and single-node deployments that pass the master key via config/env.
type StaticKeySource []byte

// MasterKey returns the static key material.
func (s StaticKeySource) MasterKey(context.Context) ([]byte, error) { return []byte(s), nil }

// Vault encrypts and decrypts credential plaintext with AES-256-GCM, using a
// key derived from KeySource via HKDF-SHA256 (golang.org/x/crypto/hkdf),
// scoped per provider ID so compromise of one provider's derived key does
// not expose another's.
type Vault struct {
	keys KeySource
}

// NewVault returns a Vault backed by the given key source.
func NewVault(keys KeySource) *Vault {
	return &Vault{keys: keys}
}

func (v *Vault) deriveKey(ctx context.Context, providerID string) ([]byte, error) {
	master, err := v.keys.MasterKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential: master key: %w", err)
	}
	if len(master) < 16 {
		return nil, ErrKeyMaterialTooShort
	}
	kdf := hkdf.New(newSHA256, master, nil, []byte("ailink-credential:"+providerID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("credential: derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext for the given provider, returning the ciphertext
// and the nonce used. The caller is responsible for zeroing plaintext after
// the call returns; Seal itself never logs or returns the plaintext.
func (v *Vault) Seal(ctx context.Context, providerID, plaintext string) (ciphertext, nonce []byte, err error) {
	key, err := v.deriveKey(ctx, providerID)
	if err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("credential: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("credential: new gcm: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("credential: nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, []byte(plaintext), []byte(providerID))
	return ciphertext, nonce, nil
}

// Open decrypts a Credential's ciphertext back to plaintext. The returned
// string must not be logged by any caller (enforced by the redacting log
// wrapper around the injector; see Injector.RoundTrip).
func (v *Vault) Open(ctx context.Context, c *Credential) (string, error) {
	key, err := v.deriveKey(ctx, c.ProviderID)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("credential: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("credential: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, c.Nonce, c.Ciphertext, []byte(c.ProviderID))
	if err != nil {
		return "", fmt.Errorf("credential: decrypt: %w", err)
	}
	return string(plaintext), nil
}
