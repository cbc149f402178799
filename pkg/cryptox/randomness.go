package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ProofPrefix marks hash-commitment proofs produced by this package.
const ProofPrefix = "sha256:"

// randomValueHexLen is the hex length of a 256-bit random value.
const randomValueHexLen = 64

// GenerateRandomValue returns a 256-bit random value, hex-encoded.
func GenerateRandomValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random value: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Commit produces a hash commitment binding a random value to a seed.
// The result is ProofPrefix + hex(sha256(seed ":" randomValue)).
//
// This is a commitment, not a VRF proof: anyone holding the seed and the
// random value can recompute it, but it carries no public-key verifiability.
func Commit(seed, randomValue string) string {
	sum := sha256.Sum256([]byte(seed + ":" + randomValue))
	return ProofPrefix + hex.EncodeToString(sum[:])
}

// WellFormedRandomValue reports whether s looks like a 256-bit hex value.
func WellFormedRandomValue(s string) bool {
	if len(s) != randomValueHexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// WellFormedProof reports whether s looks like a commitment produced by
// Commit.
func WellFormedProof(s string) bool {
	if !strings.HasPrefix(s, ProofPrefix) {
		return false
	}
	rest := strings.TrimPrefix(s, ProofPrefix)
	if len(rest) != randomValueHexLen {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}
