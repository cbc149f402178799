package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tamv/mdx/internal/mdx/domain"
)

type credentialsRepo struct {
	db dbtx
}

const credentialColumns = `id, user_id, credential_id, credential_type, public_key, device_name, transports, is_primary, counter, last_used_at, created_at`

func scanCredential(row interface{ Scan(...any) error }) (domain.Credential, error) {
	var (
		c          domain.Credential
		typRaw     string
		lastUsedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.CredentialID, &typRaw, &c.PublicKey, &c.DeviceName,
		&c.Transports, &c.IsPrimary, &c.Counter, &lastUsedAt, &c.CreatedAt)
	if err != nil {
		return domain.Credential{}, err
	}
	c.Type = domain.CredentialType(typRaw)
	c.LastUsedAt = mapNullTimePtr(lastUsedAt)
	return c, nil
}

func (r *credentialsRepo) CreateCredential(ctx context.Context, c domain.Credential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_credentials (id, user_id, credential_id, credential_type, public_key, device_name, transports, is_primary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.CredentialID, string(c.Type), c.PublicKey, c.DeviceName, c.Transports, c.IsPrimary,
	)
	return err
}

func (r *credentialsRepo) GetCredential(ctx context.Context, typ domain.CredentialType, credentialID string) (domain.Credential, error) {
	c, err := scanCredential(r.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+`
		FROM user_credentials
		WHERE credential_type = ? AND credential_id = ?`,
		string(typ), credentialID,
	))
	if err != nil {
		return domain.Credential{}, mapNotFound(err)
	}
	return c, nil
}

func (r *credentialsRepo) ListUserCredentials(ctx context.Context, userID string, typ domain.CredentialType) ([]domain.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+credentialColumns+`
		FROM user_credentials
		WHERE user_id = ? AND credential_type = ?
		ORDER BY created_at DESC, id DESC`,
		userID, string(typ),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *credentialsRepo) RecordCredentialUse(ctx context.Context, id string, at time.Time) error {
	return affectedOrConflict(r.db.ExecContext(ctx, `
		UPDATE user_credentials
		SET counter = counter + 1, last_used_at = ?
		WHERE id = ?`,
		at.UTC(), id,
	))
}

func (r *credentialsRepo) DeleteCredential(ctx context.Context, id string) error {
	return affectedOrConflict(r.db.ExecContext(ctx, `
		DELETE FROM user_credentials WHERE id = ?`, id,
	))
}

func (r *credentialsRepo) DeleteUserCredentialsOfType(ctx context.Context, userID string, typ domain.CredentialType) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM user_credentials WHERE user_id = ? AND credential_type = ?`,
		userID, string(typ),
	)
	return err
}

// UpsertTOTPCredential relies on the partial unique index over totp rows:
// re-enrollment rotates the secret instead of stacking duplicates.
func (r *credentialsRepo) UpsertTOTPCredential(ctx context.Context, c domain.Credential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_credentials (id, user_id, credential_id, credential_type, public_key, device_name, transports, is_primary)
		VALUES (?, ?, ?, 'totp', ?, ?, '', 0)
		ON CONFLICT (user_id) WHERE credential_type = 'totp'
		DO UPDATE SET credential_id = excluded.credential_id,
		              public_key    = excluded.public_key,
		              device_name   = excluded.device_name,
		              counter       = 0,
		              last_used_at  = NULL`,
		c.ID, c.UserID, c.CredentialID, c.PublicKey, c.DeviceName,
	)
	return err
}
