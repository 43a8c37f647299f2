package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
)

// Options configures token issuance and password policy.
type Options struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// RotateRefreshTokens issues a new refresh token on every refresh.
	RotateRefreshTokens bool

	// BlacklistAfterRotation revokes the consumed refresh token on rotation.
	BlacklistAfterRotation bool

	MinPasswordLength int
}

// Session is the result of a successful login.
type Session struct {
	User   *User
	Tokens TokenPair
}

// Service coordinates credentials, refresh tokens and account management.
// It is safe for concurrent use; all state lives in the repositories.
type Service struct {
	users  UserRepository
	roles  RoleRepository
	tokens TokenRepository
	opts   Options
	logger *logging.Logger
	now    func() time.Time
}

// NewService wires the auth service.
func NewService(users UserRepository, roles RoleRepository, tokens TokenRepository, opts Options, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = 6
	}
	return &Service{
		users:  users,
		roles:  roles,
		tokens: tokens,
		opts:   opts,
		logger: logger.With("component", "auth"),
		now:    time.Now,
	}
}

// dummyHash is verified against when the username is unknown so that
// unknown-user and wrong-password logins take similar time.
var (
	dummyHashOnce sync.Once
	dummyHash     string
)

func timingPadHash() string {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("mortal-timing-pad") //nolint:errcheck // empty hash still fails verification
	})
	return dummyHash
}

// ─── Session lifecycle ──────────────────────────────────────────────

// Login verifies credentials and opens a new session.
//
// Unknown user, wrong password and disabled account all return
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password, deviceInfo string) (*Session, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			VerifyPassword(password, timingPadHash()) //nolint:errcheck // timing only
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Warn("stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok || !user.Enable {
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issue(ctx, user, deviceInfo)
	if err != nil {
		return nil, err
	}

	return &Session{User: user, Tokens: *pair}, nil
}

// Refresh exchanges a refresh token for a new access token.
//
// Unknown, expired and revoked tokens return ErrTokenInvalid and nothing is
// issued. Presenting a revoked token revokes its whole family. With rotation
// on, the consumed token is replaced by a new one in the same family;
// otherwise the same refresh token is returned.
func (s *Service) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	stored, err := s.tokens.GetByTokenHash(ctx, HashToken(raw))
	if err != nil {
		return nil, err
	}

	if stored.Revoked {
		s.logger.Warn("revoked refresh token presented, revoking family",
			"user_id", stored.UserID, "family_id", stored.FamilyID)
		if err := s.tokens.RevokeFamily(ctx, stored.FamilyID); err != nil {
			return nil, err
		}
		return nil, ErrTokenInvalid
	}

	now := s.now()
	if !now.Before(stored.ExpiresAt) {
		return nil, ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !user.Enable {
		if err := s.tokens.RevokeFamily(ctx, stored.FamilyID); err != nil {
			return nil, err
		}
		return nil, ErrTokenInvalid
	}

	access, accessExp, err := GenerateAccessToken(user, stored.FamilyID, s.opts.Secret, s.opts.AccessTTL, now)
	if err != nil {
		return nil, err
	}

	if !s.opts.RotateRefreshTokens {
		return &TokenPair{
			AccessToken:      access,
			RefreshToken:     raw,
			ExpiresAt:        accessExp,
			RefreshExpiresAt: stored.ExpiresAt,
		}, nil
	}

	newRaw, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	next := &RefreshToken{
		UserID:     user.ID,
		FamilyID:   stored.FamilyID,
		TokenHash:  HashToken(newRaw),
		DeviceInfo: stored.DeviceInfo,
		ExpiresAt:  now.Add(s.opts.RefreshTTL),
	}

	if s.opts.BlacklistAfterRotation {
		err = s.tokens.RotateRefreshToken(ctx, stored.ID, next)
	} else {
		err = s.tokens.Create(ctx, next)
	}
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     newRaw,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Logout blacklists a refresh token. Logging out an already revoked token
// succeeds; an unknown token is ErrTokenInvalid. Access tokens already
// issued stay valid until they expire.
func (s *Service) Logout(ctx context.Context, raw string) (int64, error) {
	if raw == "" {
		return 0, ErrTokenInvalid
	}

	stored, err := s.tokens.GetByTokenHash(ctx, HashToken(raw))
	if err != nil {
		return 0, err
	}
	if stored.Revoked {
		return stored.UserID, nil
	}

	if err := s.tokens.Revoke(ctx, stored.ID); err != nil {
		return 0, err
	}
	return stored.UserID, nil
}

// PurgeExpired deletes refresh tokens past their expiry.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx, s.now())
}

// RunPurgeLoop calls PurgeExpired every interval until ctx is cancelled.
func (s *Service) RunPurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				s.logger.Error("purging expired refresh tokens", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("purged expired refresh tokens", "count", n)
			}
		}
	}
}

// Authenticate verifies an access token and returns its principal.
func (s *Service) Authenticate(token string) (*Principal, error) {
	claims, err := ParseToken(token, s.opts.Secret)
	if err != nil {
		return nil, err
	}
	return claims.Principal()
}

// issue opens a new token family for the user.
func (s *Service) issue(ctx context.Context, user *User, deviceInfo string) (*TokenPair, error) {
	raw, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	rt := &RefreshToken{
		UserID:     user.ID,
		TokenHash:  HashToken(raw),
		DeviceInfo: deviceInfo,
		ExpiresAt:  now.Add(s.opts.RefreshTTL),
	}
	if err := s.tokens.Create(ctx, rt); err != nil {
		return nil, err
	}

	access, accessExp, err := GenerateAccessToken(user, rt.FamilyID, s.opts.Secret, s.opts.AccessTTL, now)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: rt.ExpiresAt,
	}, nil
}
