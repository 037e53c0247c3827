package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for a generated
// bootstrap password.
const seedPasswordBytes = 16

// Bootstrap creates the initial admin account on first boot if no
// users exist. The password comes from configuration; when none is
// configured a random one is generated, logged once, and must be
// changed immediately. Returns the password used for a fresh account,
// or an empty string when seeding was skipped.
func Bootstrap(ctx context.Context, repo UserRepository, username, password string, logger *slog.Logger) (string, error) {
	count, err := repo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}

	if count > 0 {
		logger.Debug("users exist, skipping bootstrap")
		return "", nil
	}

	if username == "" {
		username = "admin"
	}

	generated := false
	if password == "" {
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating bootstrap password: %w", err)
		}
		password = hex.EncodeToString(b)
		generated = true
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing bootstrap password: %w", err)
	}

	user := &User{
		Username:     username,
		PasswordHash: hash,
	}
	if err := repo.Create(ctx, user); err != nil {
		return "", fmt.Errorf("creating bootstrap user: %w", err)
	}

	if generated {
		logger.Warn("bootstrap account created with generated password",
			"username", username,
			"password", password,
			"action_required", "change this password immediately",
		)
	} else {
		logger.Info("bootstrap account created", "username", username)
	}

	return password, nil
}
