package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

// keyring lends the node's RSA private key to fn for the duration of the call.
type keyring interface {
	withKey(fn func(*rsa.PrivateKey) error) error
}

// SealedKey keeps the DER-encoded RSA key encrypted in guarded memory between uses.
type SealedKey struct {
	enclave *memguard.Enclave
}

// NewSealedKey parses a base64 encoded PEM or DER RSA private key and seals it.
// The decoded bytes are wiped.
func NewSealedKey(b64 string) (*SealedKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, errors.New("rsa private key is not valid base64")
	}

	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
		memguard.WipeBytes(raw)
	}
	if _, err := parsePrivateKey(der); err != nil {
		memguard.WipeBytes(der)
		return nil, err
	}

	// NewEnclave wipes der.
	return &SealedKey{enclave: memguard.NewEnclave(der)}, nil
}

func (k *SealedKey) withKey(fn func(*rsa.PrivateKey) error) error {
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	key, err := parsePrivateKey(buf.Bytes())
	if err != nil {
		return err
	}
	return fn(key)
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.New("rsa private key is neither PKCS#1 nor PKCS#8")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	return key, nil
}
