// Package custody protects ephemeral private key material at rest. Key bytes
// are sealed under a key derived from a deployment passphrase with PBKDF2 and
// AES-256-GCM. Each envelope carries its own random salt and nonce, so equal
// key/passphrase pairs never produce equal ciphertext and the derived key is
// never reused under the same nonce.
//
// Contract: callers must never persist or transmit decrypted key bytes
// outside the process boundary that immediately uses them to sign a
// transaction.
package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 work factor. Fixed deployment-wide; changing
	// it invalidates every stored envelope.
	Iterations = 100_000

	keyLen   = 32
	saltLen  = 16
	nonceLen = 12
)

// ErrDecryptionFailed covers wrong passphrase and tampered ciphertext alike.
// The AEAD tag makes the two indistinguishable; callers must not retry with
// the same inputs.
var ErrDecryptionFailed = errors.New("custody: decryption failed")

// Envelope is the sealed form of an ephemeral private key. Owned exclusively
// by the mirror row that created it; never shared across sessions.
type Envelope struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

// Encrypt seals keyBytes under the passphrase with a fresh random salt and
// nonce.
func Encrypt(keyBytes []byte, passphrase string) (Envelope, error) {
	if len(keyBytes) == 0 {
		return Envelope{}, errors.New("custody: key bytes are required")
	}
	if passphrase == "" {
		return Envelope{}, errors.New("custody: passphrase is required")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return Envelope{}, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, keyBytes, nil),
	}, nil
}

// Decrypt opens the envelope, failing with ErrDecryptionFailed when the
// passphrase is wrong or the ciphertext was tampered with. It never returns
// wrong-but-valid-looking bytes.
func Decrypt(env Envelope, passphrase string) ([]byte, error) {
	if len(env.Salt) != saltLen || len(env.Nonce) != nonceLen {
		return nil, fmt.Errorf("custody: malformed envelope")
	}

	aead, err := newAEAD(passphrase, env.Salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, Iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("custody: derive cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("custody: init aead: %w", err)
	}
	return aead, nil
}

// Encode renders the envelope as a single storable string:
// base64(salt).base64(nonce).base64(ciphertext), std encoding, no padding.
func (e Envelope) Encode() string {
	enc := base64.StdEncoding.WithPadding(base64.NoPadding)
	return strings.Join([]string{
		enc.EncodeToString(e.Salt),
		enc.EncodeToString(e.Nonce),
		enc.EncodeToString(e.Ciphertext),
	}, ".")
}

// DecodeEnvelope parses the storable string form produced by Encode.
func DecodeEnvelope(s string) (Envelope, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Envelope{}, errors.New("custody: malformed envelope encoding")
	}
	enc := base64.StdEncoding.WithPadding(base64.NoPadding)
	var env Envelope
	var err error
	if env.Salt, err = enc.DecodeString(parts[0]); err != nil {
		return Envelope{}, fmt.Errorf("custody: decode salt: %w", err)
	}
	if env.Nonce, err = enc.DecodeString(parts[1]); err != nil {
		return Envelope{}, fmt.Errorf("custody: decode nonce: %w", err)
	}
	if env.Ciphertext, err = enc.DecodeString(parts[2]); err != nil {
		return Envelope{}, fmt.Errorf("custody: decode ciphertext: %w", err)
	}
	return env, nil
}
