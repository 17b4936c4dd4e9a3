package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/repository"
	"github.com/pipetrade/rfq-auth/internal/service"
)

type stubAuth struct {
	loginResult *service.LoginResult
	loginErr    error
	lastLogin   service.LoginInput
	refreshPair *service.TokenPair
	refreshErr  error
	logoutErr   error
}

func (s *stubAuth) Login(_ context.Context, in service.LoginInput) (*service.LoginResult, error) {
	s.lastLogin = in
	return s.loginResult, s.loginErr
}

func (s *stubAuth) Refresh(context.Context, string, string, string, string) (*service.TokenPair, error) {
	return s.refreshPair, s.refreshErr
}

func (s *stubAuth) Logout(context.Context, string, string, string) error {
	return s.logoutErr
}

func (s *stubAuth) AdminResetDevice(context.Context, uint, uint, string, string) (*repository.ResetResult, error) {
	return nil, errors.New("not used")
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func doLogin(t *testing.T, h *AuthHandler, body string) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.Login(rr, req)

	var env testEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return rr, env
}

const validLoginBody = `{"email":"a@b.example","password":"pw","device_fingerprint":"fp"}`

func TestLoginRejectsIncompleteBody(t *testing.T) {
	h := NewAuthHandler(&stubAuth{}, nil)

	rr, env := doLogin(t, h, `{"email":"a@b.example"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Code != "BAD_REQUEST" {
		t.Fatalf("expected BAD_REQUEST, got %+v", env.Error)
	}
}

func TestLoginSuccessWrapsResult(t *testing.T) {
	h := NewAuthHandler(&stubAuth{loginResult: &service.LoginResult{
		AccountID:    9,
		SessionToken: "tok",
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    900,
	}}, nil)

	rr, env := doLogin(t, h, validLoginBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !env.Success {
		t.Fatal("expected success envelope")
	}
	var result service.LoginResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.SessionToken != "tok" || result.AccessToken != "access" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestLoginForwardsGeoCountryHeader(t *testing.T) {
	stub := &stubAuth{loginResult: &service.LoginResult{AccountID: 9}}
	h := NewAuthHandler(stub, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(validLoginBody))
	req.Header.Set("X-Geo-Country", " de ")
	rr := httptest.NewRecorder()
	h.Login(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if stub.lastLogin.IPCountry != "DE" {
		t.Fatalf("expected normalized country DE forwarded, got %q", stub.lastLogin.IPCountry)
	}

	// Without the edge header the field stays empty.
	stub.lastLogin = service.LoginInput{}
	if _, env := doLogin(t, h, validLoginBody); !env.Success {
		t.Fatal("expected success envelope")
	}
	if stub.lastLogin.IPCountry != "" {
		t.Fatalf("expected empty country without the header, got %q", stub.lastLogin.IPCountry)
	}
}

func TestLoginCoalescesAuthenticationFailures(t *testing.T) {
	// Credentials, suspension, and device rejection must be indistinguishable.
	for _, cause := range []error{
		autherr.ErrInvalidCredentials,
		autherr.ErrAccountSuspended,
		autherr.ErrDeviceNotRecognized,
	} {
		h := NewAuthHandler(&stubAuth{loginErr: cause}, nil)
		rr, env := doLogin(t, h, validLoginBody)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("cause %v: expected 401, got %d", cause, rr.Code)
		}
		if env.Error == nil || env.Error.Code != "AUTH_FAILED" || env.Error.Message != "authentication failed" {
			t.Fatalf("cause %v: expected uniform AUTH_FAILED body, got %+v", cause, env.Error)
		}
	}
}

func TestLoginCooldownMapsToTooManyRequests(t *testing.T) {
	h := NewAuthHandler(&stubAuth{loginErr: &service.CooldownActiveError{RetryAfter: 30 * time.Second}}, nil)

	rr, env := doLogin(t, h, validLoginBody)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if env.Error == nil || env.Error.Code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %+v", env.Error)
	}
}

func TestLoginStorageFailureMapsToServiceUnavailable(t *testing.T) {
	h := NewAuthHandler(&stubAuth{loginErr: autherr.Storage("session create", errors.New("disk full"))}, nil)

	rr, env := doLogin(t, h, validLoginBody)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Code != "STORAGE_UNAVAILABLE" {
		t.Fatalf("expected STORAGE_UNAVAILABLE, got %+v", env.Error)
	}
}

func TestLoginUnknownErrorMapsToInternal(t *testing.T) {
	h := NewAuthHandler(&stubAuth{loginErr: errors.New("boom")}, nil)

	rr, env := doLogin(t, h, validLoginBody)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if env.Error == nil || env.Error.Code != "INTERNAL" {
		t.Fatalf("expected INTERNAL, got %+v", env.Error)
	}
}

func TestRefreshInvalidTokenMapsToAuthFailed(t *testing.T) {
	h := NewAuthHandler(&stubAuth{refreshErr: autherr.ErrRefreshTokenInvalid}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", strings.NewReader(`{"refresh_token":"stale"}`))
	rr := httptest.NewRecorder()
	h.Refresh(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestLogoutUnknownSessionIsIdempotent(t *testing.T) {
	h := NewAuthHandler(&stubAuth{logoutErr: autherr.ErrSessionNotFound}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", strings.NewReader(`{"session_token":"gone"}`))
	rr := httptest.NewRecorder()
	h.Logout(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown session logout, got %d", rr.Code)
	}
}

func TestLogoutWithoutAnyToken(t *testing.T) {
	h := NewAuthHandler(&stubAuth{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.Logout(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a token, got %d", rr.Code)
	}
}
