package service

import (
	"context"

	"github.com/pipetrade/rfq-auth/internal/repository"
)

// Authenticator is the login/refresh/logout surface consumed by the HTTP
// handlers.
type Authenticator interface {
	Login(ctx context.Context, in LoginInput) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken, fingerprint, ip, ua string) (*TokenPair, error)
	Logout(ctx context.Context, token, ip, ua string) error
	AdminResetDevice(ctx context.Context, accountID, actorID uint, ip, ua string) (*repository.ResetResult, error)
}

// TokenVerifier confirms an access token and its backing session.
type TokenVerifier interface {
	Verify(accessToken string) (*Identity, error)
}

// ActivityRecorder receives best-effort activity pings for authenticated
// requests.
type ActivityRecorder interface {
	Touch(ctx context.Context, sessionID uint)
}
