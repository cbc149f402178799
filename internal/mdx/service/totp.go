package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/tamv/mdx/internal/mdx/domain"
	"github.com/tamv/mdx/internal/mdx/store"
	"github.com/tamv/mdx/pkg/cryptox"
	"github.com/tamv/mdx/pkg/idx"
)

var ErrNotConfigured = errors.New("totp not configured for this user")

const (
	totpSecretBytes = 20 // 160-bit shared secret
	backupCodeCount = 10
)

// TOTPService manages the shared-secret one-time-code factor and its
// backup codes.
type TOTPService struct {
	Store  store.Store
	Audit  *AuditService
	Issuer string // issuer name shown in authenticator apps
}

// EnrollResult is returned on secret generation for QR display.
type EnrollResult struct {
	Secret string
	URI    string // otpauth:// provisioning URI
}

// GenerateSecret creates a fresh 160-bit base32 secret and upserts it as
// the identity's single totp credential. Re-enrollment rotates the secret
// in place rather than stacking duplicate rows.
func (s *TOTPService) GenerateSecret(ctx context.Context, userID string) (EnrollResult, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return EnrollResult{}, ErrUserNotFound
		}
		return EnrollResult{}, fmt.Errorf("failed to load user: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: user.Username,
		Period:      30,
		SecretSize:  totpSecretBytes,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return EnrollResult{}, fmt.Errorf("failed to generate totp key: %w", err)
	}

	credential := domain.Credential{
		ID:           idx.New().String(),
		UserID:       userID,
		CredentialID: idx.New().String(),
		Type:         domain.CredentialTypeTOTP,
		PublicKey:    key.Secret(),
	}
	if err := s.Store.Credentials().UpsertTOTPCredential(ctx, credential); err != nil {
		return EnrollResult{}, fmt.Errorf("failed to persist totp credential: %w", err)
	}

	s.Audit.Record(ctx, "totp_enrolled", "credential", credential.CredentialID, userID,
		domain.AuditSeverityInfo, nil)

	return EnrollResult{Secret: key.Secret(), URI: key.URL()}, nil
}

// VerifyCode compares the supplied code against the stored secret using
// the standard 30-second HMAC time-step with a one-step tolerance window.
func (s *TOTPService) VerifyCode(ctx context.Context, userID, code string) (bool, error) {
	cred, err := s.totpCredential(ctx, userID)
	if err != nil {
		return false, err
	}

	if !totp.Validate(code, cred.PublicKey) {
		return false, nil
	}

	now := time.Now().UTC()
	if err := s.Store.Credentials().RecordCredentialUse(ctx, cred.ID, now); err != nil {
		return false, fmt.Errorf("failed to record credential use: %w", err)
	}

	s.Audit.Record(ctx, "totp_verified", "credential", cred.CredentialID, userID,
		domain.AuditSeverityInfo, nil)

	return true, nil
}

// GenerateBackupCodes replaces the identity's backup codes with a fresh
// set. Codes are returned once and stored only as argon2id hashes.
func (s *TOTPService) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if _, err := s.totpCredential(ctx, userID); err != nil {
		return nil, err
	}

	codes := make([]string, backupCodeCount)
	hashes := make([]string, backupCodeCount)
	for i := range codes {
		code, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		hash, err := cryptox.HashCode(code)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		codes[i] = code
		hashes[i] = hash
	}

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Credentials().DeleteUserCredentialsOfType(ctx, userID, domain.CredentialTypeBackupCode); err != nil {
			return fmt.Errorf("failed to drop old backup codes: %w", err)
		}
		for _, hash := range hashes {
			credential := domain.Credential{
				ID:           idx.New().String(),
				UserID:       userID,
				CredentialID: idx.New().String(),
				Type:         domain.CredentialTypeBackupCode,
				PublicKey:    hash,
			}
			if err := tx.Credentials().CreateCredential(ctx, credential); err != nil {
				return fmt.Errorf("failed to persist backup code: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Audit.Record(ctx, "backup_codes_generated", "credential", userID, userID,
		domain.AuditSeverityInfo, map[string]any{"count": backupCodeCount})

	return codes, nil
}

// VerifyBackupCode consumes a matching backup code. Each code works once.
func (s *TOTPService) VerifyBackupCode(ctx context.Context, userID, code string) (bool, error) {
	creds, err := s.Store.Credentials().ListUserCredentials(ctx, userID, domain.CredentialTypeBackupCode)
	if err != nil {
		return false, fmt.Errorf("failed to list backup codes: %w", err)
	}
	if len(creds) == 0 {
		return false, ErrNotConfigured
	}

	for _, cred := range creds {
		if cryptox.VerifyCode(code, cred.PublicKey) != nil {
			continue
		}
		if err := s.Store.Credentials().DeleteCredential(ctx, cred.ID); err != nil {
			return false, fmt.Errorf("failed to consume backup code: %w", err)
		}
		s.Audit.Record(ctx, "backup_code_used", "credential", cred.CredentialID, userID,
			domain.AuditSeverityInfo, nil)
		return true, nil
	}
	return false, nil
}

func (s *TOTPService) totpCredential(ctx context.Context, userID string) (domain.Credential, error) {
	creds, err := s.Store.Credentials().ListUserCredentials(ctx, userID, domain.CredentialTypeTOTP)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("failed to load totp credential: %w", err)
	}
	if len(creds) == 0 {
		return domain.Credential{}, ErrNotConfigured
	}
	return creds[0], nil
}
