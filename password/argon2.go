package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	// MaxPlaintextBytes bounds the plaintext accepted by Hash and Verify.
	// Longer inputs are rejected before any key derivation runs.
	MaxPlaintextBytes = 128

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltBytes   uint32 = 16
	minKeyBytes    uint32 = 16
)

var (
	// ErrEmptyPlaintext is returned when the plaintext is empty.
	ErrEmptyPlaintext = errors.New("password: empty plaintext")
	// ErrPlaintextTooLong is returned when the plaintext exceeds MaxPlaintextBytes.
	ErrPlaintextTooLong = errors.New("password: plaintext exceeds maximum length")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed credential hash")
)

// Params are the Argon2id cost parameters. Raising them does not invalidate
// existing hashes; each stored hash carries the parameters it was created with.
type Params struct {
	MemoryKB    uint32
	Time        uint32
	Parallelism uint8
	SaltBytes   uint32
	KeyBytes    uint32
}

// DefaultParams returns the baseline cost parameters (64 MiB, t=3, p=2).
func DefaultParams() Params {
	return Params{
		MemoryKB:    64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltBytes:   16,
		KeyBytes:    32,
	}
}

// Hasher derives and verifies Argon2id credential hashes. It is immutable
// after construction and safe for concurrent use.
type Hasher struct {
	params Params
}

// NewHasher validates the parameters and returns a ready Hasher.
func NewHasher(p Params) (*Hasher, error) {
	if p.MemoryKB < minMemoryKB {
		return nil, errors.New("password: memory must be >= 8192 KB")
	}
	if p.Time < minTimeCost {
		return nil, errors.New("password: time cost must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return nil, errors.New("password: parallelism must be >= 1")
	}
	if p.SaltBytes < minSaltBytes {
		return nil, errors.New("password: salt length must be >= 16 bytes")
	}
	if p.KeyBytes < minKeyBytes {
		return nil, errors.New("password: key length must be >= 16 bytes")
	}
	return &Hasher{params: p}, nil
}

// Hash derives a salted Argon2id hash of plaintext and encodes it in PHC
// string format. Raw plaintext bytes are used as provided; no Unicode
// normalization is applied.
func (h *Hasher) Hash(plaintext string) (string, error) {
	if err := checkPlaintext(plaintext); err != nil {
		return "", err
	}

	salt := make([]byte, h.params.SaltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(plaintext),
		salt,
		h.params.Time,
		h.params.MemoryKB,
		h.params.Parallelism,
		h.params.KeyBytes,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.MemoryKB,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches the encoded hash. The comparison
// is constant time with respect to the derived key. Verification always uses
// the parameters embedded in the stored hash, not the Hasher's own.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	if err := checkPlaintext(plaintext); err != nil {
		return false, err
	}

	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(plaintext),
		parsed.salt,
		parsed.time,
		parsed.memoryKB,
		parsed.parallelism,
		uint32(len(parsed.key)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsRehash reports whether the encoded hash was produced with weaker
// parameters than the Hasher currently enforces.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case parsed.memoryKB < h.params.MemoryKB:
		return true, nil
	case parsed.time < h.params.Time:
		return true, nil
	case parsed.parallelism < h.params.Parallelism:
		return true, nil
	case uint32(len(parsed.key)) != h.params.KeyBytes:
		return true, nil
	}
	return false, nil
}

func checkPlaintext(plaintext string) error {
	if plaintext == "" {
		return ErrEmptyPlaintext
	}
	if len(plaintext) > MaxPlaintextBytes {
		return ErrPlaintextTooLong
	}
	return nil
}

type phc struct {
	memoryKB    uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrMalformedHash
	}
	if parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrMalformedHash)
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, fmt.Errorf("%w: missing version", ErrMalformedHash)
	}
	v, err := strconv.Atoi(version)
	if err != nil || v != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version", ErrMalformedHash)
	}

	var p phc
	if err := parseCosts(parts[3], &p); err != nil {
		return nil, err
	}

	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("%w: bad salt encoding", ErrMalformedHash)
	}
	if uint32(len(p.salt)) < minSaltBytes {
		return nil, fmt.Errorf("%w: salt too short", ErrMalformedHash)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, fmt.Errorf("%w: bad key encoding", ErrMalformedHash)
	}
	if len(p.key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrMalformedHash)
	}

	return &p, nil
}

func parseCosts(part string, out *phc) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return fmt.Errorf("%w: bad cost section", ErrMalformedHash)
	}

	var mSet, tSet, pSet bool
	for _, pair := range pairs {
		k, val, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: bad cost entry", ErrMalformedHash)
		}
		switch k {
		case "m":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return fmt.Errorf("%w: bad memory cost", ErrMalformedHash)
			}
			out.memoryKB = uint32(v)
			mSet = true
		case "t":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return fmt.Errorf("%w: bad time cost", ErrMalformedHash)
			}
			out.time = uint32(v)
			tSet = true
		case "p":
			v, err := strconv.ParseUint(val, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return fmt.Errorf("%w: bad parallelism", ErrMalformedHash)
			}
			out.parallelism = uint8(v)
			pSet = true
		default:
			return fmt.Errorf("%w: unknown cost parameter", ErrMalformedHash)
		}
	}
	if !mSet || !tSet || !pSet {
		return fmt.Errorf("%w: missing cost parameter", ErrMalformedHash)
	}
	return nil
}
