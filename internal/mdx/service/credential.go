package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tamv/mdx/internal/mdx/domain"
	"github.com/tamv/mdx/internal/mdx/store"
	"github.com/tamv/mdx/pkg/cryptox"
	"github.com/tamv/mdx/pkg/idx"
)

var (
	ErrUserNotFound       = errors.New("user profile not found")
	ErrInvalidChallenge   = errors.New("no valid challenge found")
	ErrNoCredentials      = errors.New("no credentials registered")
	ErrCredentialNotFound = errors.New("credential not registered to this user")
	ErrForbidden          = errors.New("credential belongs to a different user")
)

const (
	challengeTimeoutMillis = 60_000
	clientDataTypeCreate   = "webauthn.create"
	clientDataTypeGet      = "webauthn.get"
)

// CredentialService manages the enrollment/login challenge-response
// lifecycle for possession credentials.
type CredentialService struct {
	Store  store.Store
	Audit  *AuditService
	RPID   string // relying party identifier (domain)
	RPName string
}

// RequestMeta carries origin metadata recorded with each challenge.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// RegisterOptions issues a fresh enrollment challenge and returns the
// capability descriptor the client authenticator consumes.
func (s *CredentialService) RegisterOptions(ctx context.Context, userID string, meta RequestMeta) (domain.RegistrationOptions, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.RegistrationOptions{}, ErrUserNotFound
		}
		return domain.RegistrationOptions{}, fmt.Errorf("failed to load user: %w", err)
	}

	value, err := s.issueChallenge(ctx, userID, meta)
	if err != nil {
		return domain.RegistrationOptions{}, err
	}

	return domain.RegistrationOptions{
		Challenge: value,
		RP:        domain.RelyingParty{Name: s.RPName, ID: s.RPID},
		User: domain.UserDescriptor{
			ID:          user.ID,
			Name:        user.Username,
			DisplayName: user.DisplayName,
		},
		PubKeyCredParams: []domain.PubKeyCredParam{
			{Type: "public-key", Alg: -7},   // ES256
			{Type: "public-key", Alg: -257}, // RS256
		},
		AuthenticatorSelection: domain.AuthenticatorSelection{
			UserVerification: "preferred",
		},
		Timeout:     challengeTimeoutMillis,
		Attestation: "none",
	}, nil
}

// RegisterVerify consumes the pending enrollment challenge and persists the
// presented credential. The clientDataJSON challenge and ceremony type are
// checked against the issued challenge; attestation signature verification
// is not performed here.
func (s *CredentialService) RegisterVerify(ctx context.Context, userID string, assertion domain.CredentialAssertion, deviceName string) (string, error) {
	now := time.Now().UTC()

	ch, err := s.Store.Challenges().GetLatestActiveChallenge(ctx, userID, domain.ChallengeTypePossession, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidChallenge
		}
		return "", fmt.Errorf("failed to load challenge: %w", err)
	}

	if err := checkClientData(assertion.Response.ClientDataJSON, clientDataTypeCreate, ch.Value); err != nil {
		return "", err
	}

	credential := domain.Credential{
		ID:           idx.New().String(),
		UserID:       userID,
		CredentialID: assertion.ID,
		Type:         domain.CredentialTypePossession,
		PublicKey:    assertion.Response.AttestationObject,
		DeviceName:   deviceName,
		Transports:   strings.Join(assertion.Transports, ","),
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Challenges().MarkChallengeVerified(ctx, ch.ID, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrInvalidChallenge
			}
			return fmt.Errorf("failed to consume challenge: %w", err)
		}

		existing, err := tx.Credentials().ListUserCredentials(ctx, userID, domain.CredentialTypePossession)
		if err != nil {
			return fmt.Errorf("failed to list credentials: %w", err)
		}
		credential.IsPrimary = len(existing) == 0

		if err := tx.Credentials().CreateCredential(ctx, credential); err != nil {
			return fmt.Errorf("failed to persist credential: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.Audit.Record(ctx, "credential_enrolled", "credential", credential.CredentialID, userID,
		domain.AuditSeverityInfo, map[string]any{"device_name": deviceName})

	return credential.CredentialID, nil
}

// LoginOptions issues a fresh login challenge. It fails before persisting
// anything when the identity has no possession credentials.
func (s *CredentialService) LoginOptions(ctx context.Context, userID string, meta RequestMeta) (domain.LoginOptions, error) {
	creds, err := s.Store.Credentials().ListUserCredentials(ctx, userID, domain.CredentialTypePossession)
	if err != nil {
		return domain.LoginOptions{}, fmt.Errorf("failed to list credentials: %w", err)
	}
	if len(creds) == 0 {
		return domain.LoginOptions{}, ErrNoCredentials
	}

	value, err := s.issueChallenge(ctx, userID, meta)
	if err != nil {
		return domain.LoginOptions{}, err
	}

	allowed := make([]domain.AllowedCredential, 0, len(creds))
	for _, c := range creds {
		var transports []string
		if c.Transports != "" {
			transports = strings.Split(c.Transports, ",")
		}
		allowed = append(allowed, domain.AllowedCredential{
			Type:       "public-key",
			ID:         c.CredentialID,
			Transports: transports,
		})
	}

	return domain.LoginOptions{
		Challenge:        value,
		AllowCredentials: allowed,
		UserVerification: "preferred",
		Timeout:          challengeTimeoutMillis,
	}, nil
}

// LoginVerify consumes the pending login challenge and records a use of
// the asserted credential.
func (s *CredentialService) LoginVerify(ctx context.Context, userID string, assertion domain.CredentialAssertion) (bool, error) {
	now := time.Now().UTC()

	ch, err := s.Store.Challenges().GetLatestActiveChallenge(ctx, userID, domain.ChallengeTypePossession, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrInvalidChallenge
		}
		return false, fmt.Errorf("failed to load challenge: %w", err)
	}

	if err := checkClientData(assertion.Response.ClientDataJSON, clientDataTypeGet, ch.Value); err != nil {
		return false, err
	}

	cred, err := s.Store.Credentials().GetCredential(ctx, domain.CredentialTypePossession, assertion.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrCredentialNotFound
		}
		return false, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred.UserID != userID {
		return false, ErrCredentialNotFound
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Challenges().MarkChallengeVerified(ctx, ch.ID, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrInvalidChallenge
			}
			return fmt.Errorf("failed to consume challenge: %w", err)
		}
		if err := tx.Credentials().RecordCredentialUse(ctx, cred.ID, now); err != nil {
			return fmt.Errorf("failed to record credential use: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.Audit.Record(ctx, "credential_login", "credential", cred.CredentialID, userID,
		domain.AuditSeverityInfo, nil)

	return true, nil
}

// DeleteCredential removes a credential only when it belongs to the
// calling identity.
func (s *CredentialService) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	types := []domain.CredentialType{
		domain.CredentialTypePossession,
		domain.CredentialTypeTOTP,
		domain.CredentialTypeBackupCode,
	}

	for _, typ := range types {
		cred, err := s.Store.Credentials().GetCredential(ctx, typ, credentialID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load credential: %w", err)
		}

		if cred.UserID != userID {
			return ErrForbidden
		}
		if err := s.Store.Credentials().DeleteCredential(ctx, cred.ID); err != nil {
			return fmt.Errorf("failed to delete credential: %w", err)
		}

		s.Audit.Record(ctx, "credential_deleted", "credential", credentialID, userID,
			domain.AuditSeverityInfo, map[string]any{"credential_type": string(typ)})
		return nil
	}

	return ErrCredentialNotFound
}

// issueChallenge generates and persists a possession challenge with at
// least 256 bits of entropy and the fixed TTL.
func (s *CredentialService) issueChallenge(ctx context.Context, userID string, meta RequestMeta) (string, error) {
	value, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}

	now := time.Now().UTC()
	challenge := domain.Challenge{
		ID:        idx.New().String(),
		UserID:    userID,
		Value:     value,
		Type:      domain.ChallengeTypePossession,
		ExpiresAt: now.Add(domain.ChallengeTTL),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if err := s.Store.Challenges().CreateChallenge(ctx, challenge); err != nil {
		return "", fmt.Errorf("failed to persist challenge: %w", err)
	}
	return value, nil
}

// clientData is the subset of the authenticator's clientDataJSON we bind
// to the issued challenge.
type clientData struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
}

// checkClientData binds the presented assertion to the issued single-use
// challenge (replay protection). It does not verify the authenticator
// signature.
func checkClientData(encoded, wantType, wantChallenge string) error {
	raw, err := decodeBase64(encoded)
	if err != nil {
		return ErrInvalidChallenge
	}

	var cd clientData
	if err := json.Unmarshal(raw, &cd); err != nil {
		return ErrInvalidChallenge
	}
	if cd.Type != wantType || cd.Challenge != wantChallenge {
		return ErrInvalidChallenge
	}
	return nil
}

// decodeBase64 accepts both url-safe and standard alphabets, padded or
// not, since client stacks differ on the encoding they emit.
func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if raw, err := enc.DecodeString(s); err == nil {
			return raw, nil
		}
	}
	return nil, errors.New("invalid base64 payload")
}
