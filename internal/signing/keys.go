package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // Thumbprints identify keys, they are not a security boundary.
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// PublicKeyPEMType is the PEM block type of a public key.
	PublicKeyPEMType = "UPDATE SIGNING PUBLIC KEY"
	// PrivateKeyPEMType is the PEM block type of a private key.
	PrivateKeyPEMType = "UPDATE SIGNING PRIVATE KEY"
)

var (
	errNoKeys        = errors.New("no public keys found")
	errNoPrivateKey  = errors.New("no private key found")
	errKeySize       = errors.New("unexpected key size")
	errUnexpectedPEM = errors.New("unexpected PEM block")
)

// GenerateKey creates a new ed25519 key pair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	return pub, priv, nil
}

// EncodePublicKey wraps a public key in PEM.
func EncodePublicKey(pub ed25519.PublicKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:    PublicKeyPEMType,
		Headers: map[string]string{"Thumbprint": Thumbprint(pub)},
		Bytes:   pub,
	})
}

// EncodePrivateKey wraps a private key in PEM.
func EncodePrivateKey(priv ed25519.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  PrivateKeyPEMType,
		Bytes: priv,
	})
}

// ParsePublicKeys reads every public key of a PEM bundle.
// Blocks of other types are rejected so a private key pasted into the
// trusted bundle is noticed.
func ParsePublicKeys(data []byte) ([]ed25519.PublicKey, error) {
	var keys []ed25519.PublicKey

	for rest := data; len(bytes.TrimSpace(rest)) > 0; {
		var block *pem.Block

		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		if block.Type != PublicKeyPEMType {
			return nil, fmt.Errorf("%w: %s", errUnexpectedPEM, block.Type)
		}

		if len(block.Bytes) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key: %w: %d bytes", errKeySize, len(block.Bytes))
		}

		keys = append(keys, ed25519.PublicKey(bytes.Clone(block.Bytes)))
	}

	if len(keys) == 0 {
		return nil, errNoKeys
	}

	return keys, nil
}

// ParsePrivateKey reads the first private key of a PEM document.
func ParsePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errNoPrivateKey
	}

	if block.Type != PrivateKeyPEMType {
		return nil, fmt.Errorf("%w: %s", errUnexpectedPEM, block.Type)
	}

	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key: %w: %d bytes", errKeySize, len(block.Bytes))
	}

	return ed25519.PrivateKey(bytes.Clone(block.Bytes)), nil
}

// LoadPublicKeys reads a trusted key bundle from disk.
func LoadPublicKeys(path string) ([]ed25519.PublicKey, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read trusted keys: %w", err)
	}

	return ParsePublicKeys(data)
}

// LoadPrivateKey reads a private key from disk.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	return ParsePrivateKey(data)
}

// Thumbprint returns the upper-case hex SHA-1 of the public key.
func Thumbprint(pub ed25519.PublicKey) string {
	sum := sha1.Sum(pub) //nolint:gosec // See import comment.

	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
