package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
)

// seedPasswordBytes is the number of random bytes for the seed password.
const seedPasswordBytes = 16

// SeedUsername is the account created on first boot.
const SeedUsername = "admin"

// SeedSuperAdmin creates the first account on an empty database and gives
// it the super role, creating that role if needed. The generated password is
// logged once and must be changed.
// Returns the generated password, or "" when users already exist.
func SeedSuperAdmin(ctx context.Context, users UserRepository, roles RoleRepository, superRole string, logger *logging.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Debug("users exist, skipping admin seed")
		return "", nil
	}

	role, err := roles.GetByCode(ctx, superRole)
	if errors.Is(err, ErrRoleNotFound) {
		role = &Role{Code: superRole, Name: "Super administrator", Enable: true}
		err = roles.Create(ctx, role)
	}
	if err != nil {
		return "", fmt.Errorf("ensuring super role: %w", err)
	}

	b := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(b)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Username:     SeedUsername,
		PasswordHash: hash,
		NickName:     "Administrator",
		Enable:       true,
		Gender:       GenderDefault,
	}
	if err := users.Create(ctx, admin, []int64{role.ID}); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"username", SeedUsername,
		"password", password,
		"action_required", "change this password immediately",
	)
	return password, nil
}
