package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// refreshTokenBytes is the entropy of an opaque refresh token (256-bit).
const refreshTokenBytes = 32

// CustomClaims extends the registered JWT claims with the console identity.
type CustomClaims struct {
	jwt.RegisteredClaims
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
	SessionID string   `json:"sid"`
}

// Principal converts verified claims into the request identity.
func (c *CustomClaims) Principal() (*Principal, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: bad subject", ErrTokenInvalid)
	}
	return &Principal{
		UserID:    id,
		Username:  c.Username,
		Roles:     c.Roles,
		SessionID: c.SessionID,
	}, nil
}

// GenerateAccessToken creates a signed HS256 access token for a user.
// Access tokens are verified by signature only and cannot be revoked;
// they lapse at their own expiry.
func GenerateAccessToken(user *User, sessionID, secret string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	expires := now.Add(ttl)
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		Username:  user.Username,
		Roles:     user.RoleCodes(),
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expires, nil
}

// GenerateRefreshToken creates a random opaque refresh token.
// The raw value goes to the client; only HashToken(raw) is stored.
func GenerateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ParseToken validates an access token and returns its claims.
// Every failure (signature, algorithm, expiry, missing subject) wraps ErrTokenInvalid.
func ParseToken(tokenString, secret string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return claims, nil
}
