package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tamv/mdx/internal/mdx/domain"
)

type challengesRepo struct {
	db dbtx
}

func (r *challengesRepo) CreateChallenge(ctx context.Context, c domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_challenges (id, user_id, challenge, challenge_type, expires_at, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Value, string(c.Type), c.ExpiresAt.UTC(), c.IPAddress, c.UserAgent,
	)
	return err
}

func (r *challengesRepo) GetLatestActiveChallenge(ctx context.Context, userID string, typ domain.ChallengeType, now time.Time) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, challenge, challenge_type, expires_at, verified_at, ip_address, user_agent, created_at
		FROM mfa_challenges
		WHERE user_id = ? AND challenge_type = ? AND verified_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		userID, string(typ), now.UTC(),
	)

	var (
		c          domain.Challenge
		typRaw     string
		verifiedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Value, &typRaw, &c.ExpiresAt, &verifiedAt, &c.IPAddress, &c.UserAgent, &c.CreatedAt)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}
	c.Type = domain.ChallengeType(typRaw)
	c.VerifiedAt = mapNullTimePtr(verifiedAt)
	return c, nil
}

// MarkChallengeVerified is conditional on the challenge being unverified,
// so two concurrent verifications cannot both succeed.
func (r *challengesRepo) MarkChallengeVerified(ctx context.Context, id string, at time.Time) error {
	return affectedOrConflict(r.db.ExecContext(ctx, `
		UPDATE mfa_challenges
		SET verified_at = ?
		WHERE id = ? AND verified_at IS NULL`,
		at.UTC(), id,
	))
}
