package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pipetrade/rfq-auth/internal/autherr"
	"github.com/pipetrade/rfq-auth/internal/service"
)

type fakeVerifier struct {
	identity *service.Identity
	err      error
}

func (f *fakeVerifier) Verify(string) (*service.Identity, error) {
	return f.identity, f.err
}

type fakeActivity struct {
	touched []uint
}

func (f *fakeActivity) Touch(_ context.Context, sessionID uint) {
	f.touched = append(f.touched, sessionID)
}

func TestAuthMiddlewareMissingTokenReturnsUnauthorized(t *testing.T) {
	h := AuthMiddleware(&fakeVerifier{identity: &service.Identity{AccountID: 1}}, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/me/sessions", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareRejectsBadToken(t *testing.T) {
	h := AuthMiddleware(&fakeVerifier{err: autherr.ErrTokenInvalid}, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run for an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/me/sessions", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareAttachesIdentity(t *testing.T) {
	want := &service.Identity{AccountID: 42, Roles: []string{"buyer"}, SessionID: 7}
	var got *service.Identity
	h := AuthMiddleware(&fakeVerifier{identity: want}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		got = id
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/me/sessions", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got == nil || got.AccountID != 42 || got.SessionID != 7 {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestAuthMiddlewarePingsSessionActivity(t *testing.T) {
	activity := &fakeActivity{}
	verifier := &fakeVerifier{identity: &service.Identity{AccountID: 42, SessionID: 7}}
	h := AuthMiddleware(verifier, activity)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/me/sessions", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(activity.touched) != 1 || activity.touched[0] != 7 {
		t.Fatalf("expected one activity ping for session 7, got %v", activity.touched)
	}
}

func TestAuthMiddlewareSkipsActivityPingOnRejection(t *testing.T) {
	activity := &fakeActivity{}
	h := AuthMiddleware(&fakeVerifier{err: autherr.ErrTokenInvalid}, activity)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run for an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/me/sessions", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if len(activity.touched) != 0 {
		t.Fatalf("expected no activity ping for a rejected request, got %v", activity.touched)
	}
}

func TestRequireRoleForbidsMissingRole(t *testing.T) {
	verifier := &fakeVerifier{identity: &service.Identity{AccountID: 1, Roles: []string{"buyer"}}}
	h := AuthMiddleware(verifier, nil)(RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run without the admin role")
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/accounts/1/device-reset", nil)
	req.Header.Set("Authorization", "Bearer token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	verifier := &fakeVerifier{identity: &service.Identity{AccountID: 1, Roles: []string{"buyer", "admin"}}}
	h := AuthMiddleware(verifier, nil)(RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/accounts/1/device-reset", nil)
	req.Header.Set("Authorization", "Bearer token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRequireRoleWithoutAuthContext(t *testing.T) {
	h := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run without auth context")
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/accounts/1/device-reset", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
