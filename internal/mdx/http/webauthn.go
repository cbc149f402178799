package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tamv/mdx/internal/mdx/domain"
	"github.com/tamv/mdx/internal/mdx/service"
	"github.com/tamv/mdx/pkg/httpx"
	"github.com/tamv/mdx/pkg/slogx"
)

// CredentialChallengeHandler serves the action-discriminated credential
// challenge endpoint: possession (passkey) enrollment/login ceremonies,
// shared-secret code enrollment/verification and backup codes.
type CredentialChallengeHandler struct {
	Credentials *service.CredentialService
	TOTP        *service.TOTPService
}

// credentialChallengeRequest is the envelope for every credential action.
// Which fields are required depends on the action; each branch validates
// its own before use.
type credentialChallengeRequest struct {
	Action       string                      `json:"action"`
	UserID       string                      `json:"user_id"`
	Credential   *domain.CredentialAssertion `json:"credential,omitempty"`
	DeviceName   string                      `json:"device_name,omitempty"`
	TOTPCode     string                      `json:"totp_code,omitempty"`
	BackupCode   string                      `json:"backup_code,omitempty"`
	CredentialID string                      `json:"credential_id,omitempty"`
}

func (h *CredentialChallengeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req credentialChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeActionError(w, log, errors.New("invalid JSON body"))
		return
	}
	if req.UserID == "" {
		writeActionError(w, log, errors.New("user_id is required"))
		return
	}

	meta := service.RequestMeta{
		IPAddress: httpx.ClientIP(r),
		UserAgent: r.UserAgent(),
	}

	switch req.Action {
	case "register_options":
		opts, err := h.Credentials.RegisterOptions(ctx, req.UserID, meta)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"options": opts,
		})

	case "register_verify":
		if req.Credential == nil {
			writeActionError(w, log, errors.New("credential is required"))
			return
		}
		credentialID, err := h.Credentials.RegisterVerify(ctx, req.UserID, *req.Credential, req.DeviceName)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"credential_id": credentialID,
			"message":       "credential registered",
		})

	case "login_options":
		opts, err := h.Credentials.LoginOptions(ctx, req.UserID, meta)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"options": opts,
		})

	case "login_verify":
		if req.Credential == nil {
			writeActionError(w, log, errors.New("credential is required"))
			return
		}
		verified, err := h.Credentials.LoginVerify(ctx, req.UserID, *req.Credential)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"verified": verified,
			"message":  "login verified",
		})

	case "generate_totp":
		enroll, err := h.TOTP.GenerateSecret(ctx, req.UserID)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"secret":  enroll.Secret,
			"uri":     enroll.URI,
		})

	case "verify_totp":
		if req.TOTPCode == "" {
			writeActionError(w, log, errors.New("totp_code is required"))
			return
		}
		verified, err := h.TOTP.VerifyCode(ctx, req.UserID, req.TOTPCode)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"verified": verified,
		})

	case "generate_backup_codes":
		codes, err := h.TOTP.GenerateBackupCodes(ctx, req.UserID)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"codes":   codes,
		})

	case "verify_backup_code":
		if req.BackupCode == "" {
			writeActionError(w, log, errors.New("backup_code is required"))
			return
		}
		verified, err := h.TOTP.VerifyBackupCode(ctx, req.UserID, req.BackupCode)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"verified": verified,
		})

	case "delete_credential":
		if req.CredentialID == "" {
			writeActionError(w, log, errors.New("credential_id is required"))
			return
		}
		if err := h.Credentials.DeleteCredential(ctx, req.UserID, req.CredentialID); err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "credential deleted",
		})

	default:
		writeActionError(w, log, errors.New("unknown action"))
	}
}

// writeActionError surfaces every failure as HTTP 400 with the structured
// {success:false, error} shape the function clients expect.
func writeActionError(w http.ResponseWriter, log *slog.Logger, err error) {
	if !knownActionError(err) {
		log.Error("action failed", "err", err)
	} else {
		log.Warn("action rejected", "err", err)
	}
	httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

func knownActionError(err error) bool {
	for _, known := range []error{
		service.ErrUserNotFound,
		service.ErrInvalidChallenge,
		service.ErrNoCredentials,
		service.ErrCredentialNotFound,
		service.ErrForbidden,
		service.ErrNotConfigured,
		service.ErrDrawNotFound,
		service.ErrInvalidState,
		service.ErrNoTickets,
		service.ErrWinnerResolution,
		service.ErrSoldOut,
		service.ErrInsufficientFunds,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
