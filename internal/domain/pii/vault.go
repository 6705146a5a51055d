package pii

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

// ErrKeyMaterialTooShort mirrors credential.ErrKeyMaterialTooShort: the
// external key source must supply enough bytes for HKDF to derive a usable
// AES-256 key.
var ErrKeyMaterialTooShort = errors.New("pii: master key material too short")

// ErrNotAuthorized is returned by Rehydrate when the caller's org does not
// match the entry's org.
var ErrNotAuthorized = errors.New("pii: caller not authorized to rehydrate this token")

// KeySource supplies the raw master key material the Vault derives its
// per-org AES-256 key from. Shares the same port shape as
// credential.KeySource; kept as a distinct interface since the PII vault
// and the credential vault are independently deployable components that
// may draw from different secret managers.
type KeySource interface {
	MasterKey(ctx context.Context) ([]byte, error)
}

// StaticKeySource is a KeySource backed by a fixed byte slice, for tests and
// single-node deployments configuring the key via env/config.
type StaticKeySource []byte

func (s StaticKeySource) MasterKey(context.Context) ([]byte, error) { return []byte(s), nil }

// Vault encrypts and decrypts vaulted PII spans with AES-256-GCM, deriving
// a key per org via HKDF-SHA256 so that compromising one org's derived key
// does not expose another org's vaulted data. Shares credential.Vault's
// Seal/Open shape (internal/domain/credential/vault.go), scoped per org ID
// rather than per provider ID so entries are stored under the token's org.
type Vault struct {
	keys KeySource
}

// NewVault returns a Vault backed by the given key source.
func NewVault(keys KeySource) *Vault {
	return &Vault{keys: keys}
}

func (v *Vault) deriveKey(ctx context.Context, orgID string) ([]byte, error) {
	master, err := v.keys.MasterKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("pii: master key: %w", err)
	}
	if len(master) < 16 {
		return nil, ErrKeyMaterialTooShort
	}
	kdf := hkdf.New(newSHA256, master, nil, []byte("ailink-pii:"+orgID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("pii: derive key: %w", err)
	}
	return key, nil
}

// seal encrypts plaintext under the given org's derived key, with the org
// ID as GCM additional authenticated data so a ciphertext can never be
// opened under a different org's key even if stored key material is
// swapped between entries.
func (v *Vault) seal(ctx context.Context, orgID, plaintext string) (ciphertext, nonce []byte, err error) {
	key, err := v.deriveKey(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("pii: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("pii: new gcm: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("pii: nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, []byte(plaintext), []byte(orgID))
	return ciphertext, nonce, nil
}

// open decrypts e back to plaintext under orgID's derived key.
func (v *Vault) open(ctx context.Context, orgID string, e *Entry) (string, error) {
	key, err := v.deriveKey(ctx, orgID)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("pii: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("pii: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, e.Nonce, e.Ciphertext, []byte(orgID))
	if err != nil {
		return "", fmt.Errorf("pii: decrypt: %w", err)
	}
	return string(plaintext), nil
}
