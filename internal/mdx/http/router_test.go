package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tamv/mdx/internal/mdx/domain"
	"github.com/tamv/mdx/internal/mdx/service"
	"github.com/tamv/mdx/internal/mdx/store/drivers/sqlite"
	"github.com/tamv/mdx/pkg/idx"
)

func newTestRouter(t *testing.T, secret string) (*Router, *sqlite.Store) {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := &service.AuditService{Store: st, Logger: logger}

	r := NewRouter("test", st, logger)
	r.CredentialService = &service.CredentialService{Store: st, Audit: audit, RPID: "mdx.test", RPName: "MD-X4"}
	r.TOTPService = &service.TOTPService{Store: st, Audit: audit, Issuer: "MD-X4"}
	r.DrawService = &service.DrawService{Store: st, Audit: audit}
	r.FunctionsSecret = []byte(secret)
	r.ApplyRoutes()
	return r, st
}

func postAction(t *testing.T, router *Router, path string, body map[string]any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPreflightReturnsEmpty200(t *testing.T) {
	router, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/functions/credential-challenge", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rec.Body.String())
}

func TestUnknownActionRejected(t *testing.T) {
	router, st := newTestRouter(t, "")

	user := domain.User{ID: idx.New().String(), Username: "alice", DisplayName: "Alice"}
	require.NoError(t, st.Users().CreateUser(context.Background(), user))

	rec := postAction(t, router, "/functions/credential-challenge",
		map[string]any{"action": "frobnicate", "user_id": user.ID}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.NotEmpty(t, body.Error)
}

func TestCredentialChallengeRegisterOptions(t *testing.T) {
	router, st := newTestRouter(t, "")

	user := domain.User{ID: idx.New().String(), Username: "alice", DisplayName: "Alice"}
	require.NoError(t, st.Users().CreateUser(context.Background(), user))

	rec := postAction(t, router, "/functions/credential-challenge",
		map[string]any{"action": "register_options", "user_id": user.ID}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool `json:"success"`
		Options struct {
			Challenge string `json:"challenge"`
			RP        struct {
				ID string `json:"id"`
			} `json:"rp"`
		} `json:"options"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.NotEmpty(t, body.Options.Challenge)
	require.Equal(t, "mdx.test", body.Options.RP.ID)
}

func TestCredentialChallengeErrorShape(t *testing.T) {
	router, _ := newTestRouter(t, "")

	// Unknown user surfaces as HTTP 400 with the structured error shape.
	rec := postAction(t, router, "/functions/credential-challenge",
		map[string]any{"action": "register_options", "user_id": idx.New().String()}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, service.ErrUserNotFound.Error(), body.Error)
}

func TestVerifiableDrawLifecycle(t *testing.T) {
	ctx := context.Background()
	router, st := newTestRouter(t, "")

	user := domain.User{ID: idx.New().String(), Username: "alice", DisplayName: "Alice"}
	require.NoError(t, st.Users().CreateUser(ctx, user))
	require.NoError(t, st.Wallets().CreditAccount(ctx, user.ID, mustDecimal(t, "100")))

	rec := postAction(t, router, "/functions/verifiable-draw", map[string]any{
		"action":       "create_draw",
		"name":         "Sorteo",
		"prize_pool":   "500",
		"ticket_price": "25",
		"max_tickets":  10,
		"draw_date":    time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		Success bool     `json:"success"`
		Draw    drawView `json:"draw"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, created.Success)
	drawID := created.Draw.ID

	rec = postAction(t, router, "/functions/verifiable-draw",
		map[string]any{"action": "buy_ticket", "draw_id": drawID, "user_id": user.ID}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postAction(t, router, "/functions/verifiable-draw",
		map[string]any{"action": "execute_draw", "draw_id": drawID}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var executed struct {
		Success bool `json:"success"`
		Winner  struct {
			TicketNumber int64  `json:"ticket_number"`
			UserID       string `json:"user_id"`
			PrizeAmount  string `json:"prize_amount"`
		} `json:"winner"`
		VRF struct {
			RandomNumber string `json:"random_number"`
			Proof        string `json:"proof"`
		} `json:"vrf"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &executed))
	require.True(t, executed.Success)
	require.Equal(t, int64(1), executed.Winner.TicketNumber)
	require.Equal(t, user.ID, executed.Winner.UserID)
	require.Len(t, executed.VRF.RandomNumber, 64)

	rec = postAction(t, router, "/functions/verifiable-draw",
		map[string]any{"action": "verify_randomness", "draw_id": drawID}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var verified struct {
		Success    bool   `json:"success"`
		Verified   bool   `json:"verified"`
		DrawStatus string `json:"draw_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	require.True(t, verified.Verified)
	require.Equal(t, "completed", verified.DrawStatus)

	// Second execution hits the status compare-and-set.
	rec = postAction(t, router, "/functions/verifiable-draw",
		map[string]any{"action": "execute_draw", "draw_id": drawID}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerGate(t *testing.T) {
	router, st := newTestRouter(t, "gateway-secret")

	user := domain.User{ID: idx.New().String(), Username: "alice", DisplayName: "Alice"}
	require.NoError(t, st.Users().CreateUser(context.Background(), user))

	body := map[string]any{"action": "register_options", "user_id": user.ID}

	t.Run("missing token", func(t *testing.T) {
		rec := postAction(t, router, "/functions/credential-challenge", body, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		token := mintToken(t, "wrong-secret", user.ID)
		rec := postAction(t, router, "/functions/credential-challenge", body, token)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token := mintToken(t, "gateway-secret", user.ID)
		rec := postAction(t, router, "/functions/credential-challenge", body, token)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()

	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func mintToken(t *testing.T, secret, subject string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}
