// Package refresh implements the opaque refresh token wire format.
//
// A refresh token is base64url(session ID || 32-byte random secret). The
// bearer value is returned to the client exactly once; the session store
// persists only SHA-256 of the secret, so a stored record can never be
// turned back into a usable token.
//
// This package owns encoding, decoding, and secret hashing only. Rotation
// policy and reuse detection live in the session store and the Engine.
package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"github.com/google/uuid"
)

// SecretSize is the byte length of the random secret half of a token.
const SecretSize = 32

const tokenBytes = 16 + SecretSize // binary UUID + secret

// ErrMalformed is returned when a presented token cannot be decoded. It
// reveals nothing about whether any session exists.
var ErrMalformed = errors.New("refresh: malformed token")

// NewSecret draws a fresh token secret from crypto/rand.
func NewSecret() ([SecretSize]byte, error) {
	var secret [SecretSize]byte
	if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
		return secret, err
	}
	return secret, nil
}

// HashSecret returns the one-way digest under which a secret is persisted.
func HashSecret(secret [SecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// Encode packs a session ID and secret into the opaque bearer string.
func Encode(sessionID string, secret [SecretSize]byte) (string, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return "", ErrMalformed
	}

	raw := make([]byte, 0, tokenBytes)
	raw = append(raw, id[:]...)
	raw = append(raw, secret[:]...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode unpacks a bearer string into its session ID and secret. Structural
// validation only; the secret is verified against the stored hash by the
// session store.
func Decode(tok string) (string, [SecretSize]byte, error) {
	var secret [SecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil || len(raw) != tokenBytes {
		return "", secret, ErrMalformed
	}

	id, err := uuid.FromBytes(raw[:16])
	if err != nil {
		return "", secret, ErrMalformed
	}
	copy(secret[:], raw[16:])
	return id.String(), secret, nil
}
