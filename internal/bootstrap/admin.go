package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/tokenauth/internal/config"
	"github.com/smallbiznis/tokenauth/internal/domain"
	"github.com/smallbiznis/tokenauth/internal/password"
	"github.com/smallbiznis/tokenauth/internal/repository"
)

// EnsureAdmin creates a local admin user for dev/e2e when ADMIN_EMAIL and
// ADMIN_PASSWORD are set.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, creds repository.CredentialRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, creds, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, creds repository.CredentialRepository, node *snowflake.Node, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || strings.TrimSpace(cfg.AdminPassword) == "" {
		logger.Debug("admin bootstrap skipped")
		return nil
	}

	user, err := users.GetByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		user, err = users.Create(ctx, domain.UserProfile{
			ID:     node.Generate().String(),
			Email:  email,
			Name:   "Admin",
			Status: domain.UserStatusActive,
		})
		if err != nil {
			return fmt.Errorf("bootstrap create user: %w", err)
		}
		logger.Info("bootstrap admin user created",
			zap.String("email", user.Email),
			zap.String("user_id", user.ID),
		)
	default:
		return fmt.Errorf("bootstrap lookup user: %w", err)
	}

	if _, err := creds.GetByUserID(ctx, user.ID); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("bootstrap lookup credential: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}
	if _, err := creds.Create(ctx, domain.UserCredential{UserID: user.ID, PasswordHash: hashed}); err != nil {
		return fmt.Errorf("bootstrap create credential: %w", err)
	}
	logger.Info("bootstrap admin credential created", zap.String("user_id", user.ID))
	return nil
}
