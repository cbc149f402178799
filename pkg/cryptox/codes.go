package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for hashing short one-time codes at rest.
const (
	codeSaltLength  = 16
	codeKeyLength   = 32
	codeIterations  = 2
	codeMemory      = 19 * 1024
	codeParallelism = 1
)

var ErrCodeMismatch = errors.New("cryptox: code does not match")

// HashCode generates a PHC-format Argon2id hash string for a one-time code,
// including salt and parameters.
func HashCode(code string) (string, error) {
	salt := make([]byte, codeSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(code), salt, codeIterations, codeMemory, codeParallelism, codeKeyLength)

	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		codeMemory,
		codeIterations,
		codeParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyCode compares a plaintext code against a PHC-style Argon2id hash.
// Returns ErrCodeMismatch when the code does not match.
func VerifyCode(code, encodedHash string) error {
	// Expected structure: ["", "argon2id", "v=19", "m=X,t=Y,p=Z", salt, hash]
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return errors.New("invalid hash format: expected 6 parts")
	}
	if parts[1] != "argon2id" || parts[2] != "v=19" {
		return errors.New("invalid hash format: unsupported algorithm")
	}

	var (
		mem, iters uint32
		par        uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return fmt.Errorf("invalid hash format: bad parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("invalid hash format: bad salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fmt.Errorf("invalid hash format: bad hash: %w", err)
	}

	computed := argon2.IDKey([]byte(code), salt, iters, mem, par, uint32(len(expected)))
	if subtle.ConstantTimeCompare(computed, expected) == 1 {
		return nil
	}
	return ErrCodeMismatch
}
