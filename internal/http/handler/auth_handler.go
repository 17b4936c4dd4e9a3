package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/http/middleware"
	"github.com/pipetrade/rfq-auth/internal/http/response"
	"github.com/pipetrade/rfq-auth/internal/repository"
	"github.com/pipetrade/rfq-auth/internal/service"
)

type AuthHandler struct {
	auth     service.Authenticator
	sessions *service.SessionService
}

func NewAuthHandler(auth service.Authenticator, sessions *service.SessionService) *AuthHandler {
	return &AuthHandler{auth: auth, sessions: sessions}
}

type loginRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint"`
	BrowserInfo       string `json:"browser_info,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if req.Email == "" || req.Password == "" || req.DeviceFingerprint == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "email, password and device_fingerprint are required", nil)
		return
	}
	ua := req.BrowserInfo
	if ua == "" {
		ua = r.UserAgent()
	}
	result, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:       req.Email,
		Password:    req.Password,
		Fingerprint: req.DeviceFingerprint,
		IPAddress:   clientIP(r),
		IPCountry:   geoCountry(r),
		UserAgent:   ua,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken      string `json:"refresh_token"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "refresh_token is required", nil)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken, req.DeviceFingerprint, clientIP(r), r.UserAgent())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pair)
}

type logoutRequest struct {
	SessionToken string `json:"session_token,omitempty"`
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	token := req.SessionToken
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "session_token or bearer token required", nil)
		return
	}
	if err := h.auth.Logout(r.Context(), token, clientIP(r), r.UserAgent()); err != nil {
		if errors.Is(err, autherr.ErrSessionNotFound) {
			// Logout is idempotent from the client's point of view.
			response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
			return
		}
		writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// ListSessions returns the caller's active sessions, flagging the current one.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	views, err := h.sessions.ListActive(identity.AccountID, identity.SessionID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

// AdminResetDevice clears an account's primary device binding and all of its
// sessions. Requires the admin role, enforced by the route middleware; the
// acting administrator lands in deactivated_by.
func (h *AuthHandler) AdminResetDevice(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	accountID, err := strconv.ParseUint(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid account id", nil)
		return
	}
	result, err := h.auth.AdminResetDevice(r.Context(), uint(accountID), identity.AccountID, clientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, repository.ErrBindingNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "no active primary device binding", nil)
			return
		}
		writeAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"binding_id":           result.Binding.ID,
		"sessions_invalidated": result.InvalidatedSessions,
	})
}

// writeAuthError maps the taxonomy to the boundary contract: every
// authentication failure becomes the same generic 401, storage trouble is a
// retryable 503, throttling a 429.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var cooldown *service.CooldownActiveError
	switch {
	case errors.As(err, &cooldown):
		w.Header().Set("Retry-After", strconv.Itoa(int(cooldown.RetryAfter.Seconds())+1))
		response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many failed attempts", nil)
	case autherr.AuthenticationFailure(err),
		errors.Is(err, autherr.ErrRefreshTokenInvalid),
		errors.Is(err, autherr.ErrSessionNotFound),
		errors.Is(err, autherr.ErrSessionExpired),
		errors.Is(err, autherr.ErrTokenExpired),
		errors.Is(err, autherr.ErrTokenInvalid):
		response.AuthFailed(w, r)
	case autherr.Retryable(err):
		response.Error(w, r, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "temporary storage failure, retry with backoff", nil)
	default:
		var invalidated *autherr.SessionInvalidatedError
		if errors.As(err, &invalidated) {
			response.AuthFailed(w, r)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

// geoCountry reads the ISO country code stamped by the edge proxy. Advisory
// only: it is recorded on the device binding, never used for access decisions.
func geoCountry(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.Header.Get("X-Geo-Country")))
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
