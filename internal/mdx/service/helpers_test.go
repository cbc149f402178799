package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tamv/mdx/internal/mdx/domain"
	"github.com/tamv/mdx/internal/mdx/store"
	"github.com/tamv/mdx/internal/mdx/store/drivers/sqlite"
	"github.com/tamv/mdx/pkg/idx"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func newTestAudit(st store.Store) *AuditService {
	return &AuditService{
		Store:  st,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func createTestUser(t *testing.T, st store.Store, username string) domain.User {
	t.Helper()

	user := domain.User{
		ID:          idx.New().String(),
		Username:    username,
		DisplayName: username,
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), user))
	return user
}

// makeAssertion builds a credential assertion whose clientDataJSON binds to
// the given ceremony type and challenge value.
func makeAssertion(credentialID, ceremonyType, challenge string) domain.CredentialAssertion {
	payload := fmt.Sprintf(`{"type":%q,"challenge":%q,"origin":"https://mdx.test"}`, ceremonyType, challenge)
	return domain.CredentialAssertion{
		ID:    credentialID,
		RawID: credentialID,
		Type:  "public-key",
		Response: domain.AssertionResponse{
			ClientDataJSON:    base64.RawURLEncoding.EncodeToString([]byte(payload)),
			AttestationObject: "o2NmbXRkbm9uZQ",
			Signature:         "c2lnbmF0dXJl",
		},
		Transports: []string{"internal"},
	}
}
