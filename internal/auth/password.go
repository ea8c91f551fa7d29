package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, OWASP baseline. Hashes embed their own
// parameters, so these can change without invalidating stored hashes.
const (
	argonMemory      = 47104 // KiB, ~46 MiB
	argonIterations  = 2
	argonParallelism = 1
	argonSaltLen     = 16
	argonKeyLen      = 32
)

// PasswordHasher hashes and verifies passwords using Argon2id with a
// self-describing encoded output:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<saltB64>$<hashB64>
type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}

// NewPasswordHasher creates a hasher with the default cost parameters
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{
		memory:      argonMemory,
		iterations:  argonIterations,
		parallelism: argonParallelism,
	}
}

// Hash derives an encoded Argon2id hash from the given password
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.iterations, h.memory, h.parallelism, argonKeyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify reports whether the password matches the encoded hash. The
// cost parameters embedded in the hash are used for recomputation, so
// hashes issued under older parameters remain verifiable. Any parse
// failure is a verification failure, never an error.
func (h *PasswordHasher) Verify(password, encodedHash string) bool {
	memory, iterations, parallelism, salt, key, ok := decodeHash(encodedHash)
	if !ok {
		return false
	}

	candidate := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(candidate, key) == 1
}

// decodeHash parses the encoded form and extracts its parameters
func decodeHash(encodedHash string) (memory, iterations uint32, parallelism uint8, salt, key []byte, ok bool) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, false
	}

	var mem, iter uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &par); err != nil {
		return 0, 0, 0, nil, nil, false
	}
	if mem == 0 || iter == 0 || par == 0 {
		return 0, 0, 0, nil, nil, false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return 0, 0, 0, nil, nil, false
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return 0, 0, 0, nil, nil, false
	}

	return mem, iter, par, salt, key, true
}
