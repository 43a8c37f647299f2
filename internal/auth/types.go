package auth

import (
	"regexp"
	"slices"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Gender codes stored on a user. Unspecified means GenderDefault.
const (
	GenderDefault = "0"
	GenderAlt     = "1"
)

// IsValidGender reports whether g is a known gender code.
func IsValidGender(g string) bool {
	return g == GenderDefault || g == GenderAlt
}

// User is a console account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // never serialised
	NickName     string    `json:"nickName"`
	Avatar       string    `json:"avatar"`
	Enable       bool      `json:"enable"`
	Gender       string    `json:"gender"`
	Roles        []Role    `json:"roles"`
	DateJoined   time.Time `json:"dateJoined"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RoleCodes returns the codes of the user's enabled roles.
func (u *User) RoleCodes() []string {
	codes := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		if r.Enable {
			codes = append(codes, r.Code)
		}
	}
	return codes
}

// Role is a named grant set. Roles are assigned to users and granted menu nodes.
type Role struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Enable    bool      `json:"enable"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RefreshToken is a stored refresh token. Tokens issued from one login share
// a FamilyID so that reuse of a revoked token can revoke the whole chain.
type RefreshToken struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"userId"`
	FamilyID   string    `json:"familyId"`
	TokenHash  string    `json:"-"` // never serialised
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Revoked    bool      `json:"revoked"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresAt        time.Time `json:"expires"`
	RefreshExpiresAt time.Time `json:"refreshExpires"`
}

// Principal is the identity carried by a verified access token.
type Principal struct {
	UserID    int64
	Username  string
	Roles     []string
	SessionID string
}

// HasRole reports whether the principal holds the role code.
func (p *Principal) HasRole(code string) bool {
	return p != nil && slices.Contains(p.Roles, code)
}
