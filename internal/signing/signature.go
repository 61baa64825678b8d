package signing

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/blake2s"
)

const (
	// FileSuffix is appended to an executable name to get its signature file.
	FileSuffix = ".sig"

	algorithmEd25519 = "ed25519"
	hashBlake2s      = "blake2s"

	maxClockSkew = 5 * time.Minute
)

var (
	// ErrUntrustedKey means the signer is not in the trusted bundle or is not the expected key.
	ErrUntrustedKey = errors.New("signing key is not trusted")
	// ErrBadSignature means the signature does not match the data.
	ErrBadSignature = errors.New("signature does not match")

	errEmptyData         = errors.New("cannot sign empty data")
	errUnsupportedScheme = errors.New("unsupported signature scheme")
	errFutureTimestamp   = errors.New("signature timestamp is in the future")
)

// Signature is the detached signature envelope.
type Signature struct {
	Signature []byte    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
	KeyID     string    `json:"key_id"`
	Algorithm string    `json:"algorithm"`
	HashAlgo  string    `json:"hash_algo"`
}

// Sign signs data with priv at the given time.
func Sign(priv ed25519.PrivateKey, data []byte, at time.Time) (*Signature, error) {
	if len(data) == 0 {
		return nil, errEmptyData
	}

	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errKeySize
	}

	at = at.UTC().Truncate(time.Second)

	return &Signature{
		Signature: ed25519.Sign(priv, message(data, at)),
		Timestamp: at,
		KeyID:     Thumbprint(pub),
		Algorithm: algorithmEd25519,
		HashAlgo:  hashBlake2s,
	}, nil
}

// Verify checks sig against data. The signer must be one of trusted and,
// when pinned is not empty, must also have one of the pinned thumbprints.
// It returns the thumbprint of the key that verified the signature.
func Verify(trusted []ed25519.PublicKey, data []byte, sig *Signature, pinned []string) (string, error) {
	if sig.Algorithm != algorithmEd25519 || sig.HashAlgo != hashBlake2s {
		return "", fmt.Errorf("%w: %s/%s", errUnsupportedScheme, sig.Algorithm, sig.HashAlgo)
	}

	if sig.Timestamp.After(time.Now().Add(maxClockSkew)) {
		return "", fmt.Errorf("%w: %s", errFutureTimestamp, sig.Timestamp)
	}

	if len(pinned) > 0 && !slices.Contains(pinned, sig.KeyID) {
		return "", fmt.Errorf("%w: signed by %s, manifest expects %s",
			ErrUntrustedKey, sig.KeyID, strings.Join(pinned, ", "))
	}

	msg := message(data, sig.Timestamp)

	for _, pub := range trusted {
		if Thumbprint(pub) != sig.KeyID {
			continue
		}

		if !ed25519.Verify(pub, msg, sig.Signature) {
			return "", fmt.Errorf("%w: key %s", ErrBadSignature, sig.KeyID)
		}

		return sig.KeyID, nil
	}

	return "", fmt.Errorf("%w: %s", ErrUntrustedKey, sig.KeyID)
}

// Marshal encodes the envelope as JSON.
func (s *Signature) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ParseSignature decodes a signature envelope.
func ParseSignature(data []byte) (*Signature, error) {
	var sig Signature
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	return &sig, nil
}

// SignFile signs the file at path and writes the envelope to path+FileSuffix.
func SignFile(priv ed25519.PrivateKey, path string, at time.Time) (*Signature, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sig, err := Sign(priv, data, at)
	if err != nil {
		return nil, err
	}

	encoded, err := sig.Marshal()
	if err != nil {
		return nil, err
	}

	if err = os.WriteFile(path+FileSuffix, encoded, 0o644); err != nil { //nolint:gosec // Signatures are public.
		return nil, fmt.Errorf("write signature: %w", err)
	}

	return sig, nil
}

// VerifyFile verifies path against path+FileSuffix.
func VerifyFile(trusted []ed25519.PublicKey, path string, pinned []string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	encoded, err := os.ReadFile(filepath.Clean(path + FileSuffix))
	if err != nil {
		return "", fmt.Errorf("read signature: %w", err)
	}

	sig, err := ParseSignature(encoded)
	if err != nil {
		return "", err
	}

	return Verify(trusted, data, sig, pinned)
}

// message builds blake2s(data) || le64(len(data)) || le64(unix timestamp).
func message(data []byte, at time.Time) []byte {
	digest := blake2s.Sum256(data)

	msg := make([]byte, 0, len(digest)+8+8)
	msg = append(msg, digest[:]...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(len(data)))
	msg = binary.LittleEndian.AppendUint64(msg, uint64(at.Unix())) //nolint:gosec // Signing times are after 1970.

	return msg
}
