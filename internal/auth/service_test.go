package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgAuth "github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/security"
)

type stubUserRepo struct {
	user *models.User
	err  error
}

func (s stubUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user == nil || s.user.Username != username {
		return nil, gorm.ErrRecordNotFound
	}
	return s.user, nil
}

type recordingRevoker struct {
	id  string
	ttl time.Duration
	err error
}

func (r *recordingRevoker) RevokeToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	r.id = tokenID
	r.ttl = ttl
	return r.err
}

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "circulation", ExpirationMinutes: 30}

func fixedNow() time.Time { return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC) }

func buildService(t *testing.T, user *models.User, revoker *recordingRevoker) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		UserRepo:  stubUserRepo{user: user},
		Revoker:   revoker,
		JWTConfig: testJWT,
		Now:       fixedNow,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc
}

func librarian(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &models.User{ID: uuid.New(), Username: "sarah_lib", FullName: "Sarah Connor", PasswordHash: hash, Role: enums.UserRoleLibrarian}
}

func TestLoginMintsTokenWithRole(t *testing.T) {
	user := librarian(t, "password123")
	svc, err := NewService(ServiceParams{
		UserRepo:  stubUserRepo{user: user},
		Revoker:   &recordingRevoker{},
		JWTConfig: testJWT,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	resp, err := svc.Login(context.Background(), LoginRequest{Username: "sarah_lib", Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.User.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, resp.User.ID)
	}
	if resp.ExpiresAt.Before(time.Now().Add(29 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", resp.ExpiresAt)
	}

	claims, err := pkgAuth.ParseAccessToken(testJWT, resp.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Role != enums.UserRoleLibrarian {
		t.Fatalf("expected librarian role claim, got %s", claims.Role)
	}
	if claims.Username != "sarah_lib" {
		t.Fatalf("expected username claim, got %q", claims.Username)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	user := librarian(t, "password123")
	svc := buildService(t, user, &recordingRevoker{})

	cases := []LoginRequest{
		{Username: "sarah_lib", Password: "wrong-password"},
		{Username: "nobody", Password: "password123"},
	}
	for _, req := range cases {
		_, err := svc.Login(context.Background(), req)
		if !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
			t.Fatalf("expected unauthorized for %q, got %v", req.Username, err)
		}
		if pkgerrors.As(err).Message() != invalidCredentialsMessage {
			t.Fatalf("expected generic message, got %q", pkgerrors.As(err).Message())
		}
	}
}

func TestLogoutRevokesRemainingLifetime(t *testing.T) {
	revoker := &recordingRevoker{}
	svc := buildService(t, nil, revoker)

	claims := &pkgAuth.AccessTokenClaims{}
	claims.ID = "jti-1"
	claims.ExpiresAt = jwtDate(fixedNow().Add(10 * time.Minute))

	if err := svc.Logout(context.Background(), claims); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if revoker.id != "jti-1" || revoker.ttl != 10*time.Minute {
		t.Fatalf("unexpected revocation %q %s", revoker.id, revoker.ttl)
	}
}

func TestLogoutExpiredTokenIsNoop(t *testing.T) {
	revoker := &recordingRevoker{}
	svc := buildService(t, nil, revoker)

	claims := &pkgAuth.AccessTokenClaims{}
	claims.ID = "jti-2"
	claims.ExpiresAt = jwtDate(fixedNow().Add(-time.Minute))

	if err := svc.Logout(context.Background(), claims); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if revoker.id != "" {
		t.Fatalf("expected no revocation, got %q", revoker.id)
	}
}

func TestLogoutSurfacesRevokerFailure(t *testing.T) {
	revoker := &recordingRevoker{err: errors.New("redis down")}
	svc := buildService(t, nil, revoker)

	claims := &pkgAuth.AccessTokenClaims{}
	claims.ID = "jti-3"
	claims.ExpiresAt = jwtDate(fixedNow().Add(time.Minute))

	if err := svc.Logout(context.Background(), claims); !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
