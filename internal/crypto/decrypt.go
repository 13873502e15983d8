// Package crypto fetches encrypted data files and decrypts them with a key wrapped for this node.
//
// Wire format: the registry key is base64(RSA-OAEP-SHA256(aes_key)) with a 32 byte AES key.
// The file body is nonce(12) || AES-256-GCM ciphertext.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/kailas-cloud/querynode/internal/domain"
)

const (
	aesKeySize = 32
	nonceSize  = 12
)

// source is the remote file reader.
type source interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Decryptor turns a registry file URL plus wrapped key into plaintext.
type Decryptor struct {
	keys   keyring
	source source
}

// NewDecryptor creates a decryptor backed by a sealed node key.
func NewDecryptor(key *SealedKey, src source) *Decryptor {
	return &Decryptor{keys: key, source: src}
}

// Decrypt fetches url and opens it. Errors never carry key material.
func (d *Decryptor) Decrypt(ctx context.Context, url, wrappedKey string) ([]byte, error) {
	aesKey, err := d.unwrap(wrappedKey)
	if err != nil {
		return nil, domain.NewError(domain.KindDecryptionFailed, err)
	}
	defer aesKey.Destroy()

	body, err := d.source.Fetch(ctx, url)
	if err != nil {
		return nil, domain.NewError(domain.KindDecryptionFailed, err)
	}

	plain, err := open(aesKey.Bytes(), body)
	if err != nil {
		return nil, domain.NewError(domain.KindDecryptionFailed, err)
	}
	return plain, nil
}

func (d *Decryptor) unwrap(wrappedKey string) (*memguard.LockedBuffer, error) {
	wrapped, err := base64.StdEncoding.DecodeString(strings.TrimSpace(wrappedKey))
	if err != nil {
		return nil, errors.New("decryption key is not valid base64")
	}

	var aesKey []byte
	err = d.keys.withKey(func(priv *rsa.PrivateKey) error {
		k, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
		if err != nil {
			return errors.New("unwrap decryption key: rsa-oaep failed")
		}
		aesKey = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(aesKey) != aesKeySize {
		memguard.WipeBytes(aesKey)
		return nil, fmt.Errorf("unwrap decryption key: got %d byte key, want %d", len(aesKey), aesKeySize)
	}
	// NewBufferFromBytes wipes aesKey.
	return memguard.NewBufferFromBytes(aesKey), nil
}

func open(key, body []byte) ([]byte, error) {
	if len(body) < nonceSize {
		return nil, fmt.Errorf("encrypted file too short: %d bytes", len(body))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	plain, err := gcm.Open(nil, body[:nonceSize], body[nonceSize:], nil)
	if err != nil {
		return nil, errors.New("open ciphertext: authentication failed")
	}
	return plain, nil
}
