package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ruraledu/backend/internal/config"
	"github.com/ruraledu/backend/internal/domain/user"
	"github.com/ruraledu/backend/internal/repo/postgres"
	"github.com/ruraledu/backend/internal/security"
)

// EnsureAdminUser creates the configured admin account if it does not exist.
// Idempotent, safe to run on every boot.
func EnsureAdminUser(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	if !user.ValidRole(cfg.AdminRole) {
		return fmt.Errorf("invalid admin role %q", cfg.AdminRole)
	}

	// check if the user exists

	var dummy string

	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, cfg.AdminEmail).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return err
	}

	users := postgres.NewUsersRepo(pool, nil)

	_, err = users.Create(ctx, cfg.AdminEmail, hash, cfg.AdminName, cfg.AdminRole, nil)

	if errors.Is(err, postgres.ErrEmailAlreadyUsed) {
		// lost a race with another replica booting at the same time
		return nil
	}

	return err
}
