package domain

import "time"

// ChallengeType discriminates the authentication factor a challenge proves.
type ChallengeType string

const (
	// ChallengeTypePossession is a hardware-backed credential assertion.
	ChallengeTypePossession ChallengeType = "possession"
	// ChallengeTypeTOTP is a time-based one-time code.
	ChallengeTypeTOTP ChallengeType = "totp"
)

// ChallengeTTL is the fixed validity window for issued challenges.
const ChallengeTTL = 5 * time.Minute

// Challenge is a single-use proof request bound to an identity. Rows are
// retained after use for audit; expiry is enforced at read time.
type Challenge struct {
	ID         string
	UserID     string
	Value      string // random nonce, base64url
	Type       ChallengeType
	ExpiresAt  time.Time
	VerifiedAt *time.Time // nil until verified; set at most once
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
}

// Expired reports whether the challenge is past its TTL at the given time.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
