// Package auth holds the shared-password gate and the session tokens issued
// once it is passed. The gate protects a single-tenant dashboard; it is not
// a per-user identity system.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"releasedesk/internal/domain"
	"releasedesk/internal/store"
)

// ErrInvalidPassword is returned when the submitted password does not match.
var ErrInvalidPassword = errors.New("invalid password")

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// Gate checks passwords against the secret kept in app config. The first
// password ever submitted becomes the secret.
type Gate struct {
	Config store.Collection[domain.AppConfigEntry]
	Logger *zap.Logger

	mu sync.Mutex
}

func (g *Gate) logger() *zap.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return zap.NewNop()
}

// Check validates password. bootstrapped reports whether this call stored
// the secret.
func (g *Gate) Check(ctx context.Context, password string) (bootstrapped bool, err error) {
	if strings.TrimSpace(password) == "" {
		return false, fmt.Errorf("%w: password is required", domain.ErrValidation)
	}
	if len(password) > MaxPasswordBytes {
		return false, fmt.Errorf("%w: password is longer than %d bytes", domain.ErrValidation, MaxPasswordBytes)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok, err := store.FindByKey(ctx, g.Config, domain.ConfigKeySharedPassword)
	if err != nil {
		return false, err
	}
	if !ok {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return false, fmt.Errorf("hash password: %w", err)
		}
		if _, err := g.Config.Create(ctx, domain.AppConfigEntry{Key: domain.ConfigKeySharedPassword, Value: string(hash)}); err != nil {
			return false, err
		}
		g.logger().Info("shared password initialised")
		return true, nil
	}
	if !matches(entry.Value, password) {
		return false, ErrInvalidPassword
	}
	return false, nil
}

// matches accepts bcrypt hashes and, for data written before hashing,
// plain stored values.
func matches(stored, password string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}
