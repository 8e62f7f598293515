// Package main implements the CAMS operator CLI: schema migration and
// account bootstrap against the configured PostgreSQL database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cams-platform/cams/internal/config"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/services/roles"
	"github.com/cams-platform/cams/internal/services/users"
	"github.com/cams-platform/cams/internal/storage/postgres"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "create-admin":
		err = runCreateAdmin(os.Args[2:])
	case "reset-password":
		err = runResetPassword(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: cams-admin <command> [flags]

commands:
  migrate          apply database migrations
  create-admin     create an administrator account
  reset-password   reset a user's password`)
}

func openDB(configPath string) (*sqlx.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required (set CAMS_DATABASE_DSN)")
	}
	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args)

	db, err := openDB(*configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(db.DB); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}

func runCreateAdmin(args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	username := fs.String("username", "admin", "administrator username")
	email := fs.String("email", "", "administrator email")
	password := fs.String("password", "", "administrator password (prompted from CAMS_ADMIN_PASSWORD if empty)")
	_ = fs.Parse(args)

	if *password == "" {
		*password = os.Getenv("CAMS_ADMIN_PASSWORD")
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("-email and -password are required")
	}

	db, err := openDB(*configPath)
	if err != nil {
		return err
	}
	defer db.Close()
	store := postgres.New(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := logging.New("cams-admin", "warn", "console")
	roleSvc := roles.New(store, logger)
	if err := roleSvc.Seed(ctx); err != nil {
		return fmt.Errorf("seed system roles: %w", err)
	}
	adminRole, err := roleSvc.GetByName(ctx, roles.RoleAdmin)
	if err != nil {
		return fmt.Errorf("lookup admin role: %w", err)
	}

	userSvc := users.New(store, store, logger)
	u, err := userSvc.Create(ctx, users.CreateParams{
		Username: *username,
		Email:    *email,
		Password: *password,
		RoleIDs:  []string{adminRole.ID},
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	fmt.Printf("created administrator %q (%s)\n", u.Username, u.ID)
	return nil
}

func runResetPassword(args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	username := fs.String("username", "", "account to reset")
	password := fs.String("password", "", "new password")
	_ = fs.Parse(args)

	if *username == "" || *password == "" {
		return fmt.Errorf("-username and -password are required")
	}

	db, err := openDB(*configPath)
	if err != nil {
		return err
	}
	defer db.Close()
	store := postgres.New(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := logging.New("cams-admin", "warn", "console")
	userSvc := users.New(store, store, logger)

	u, err := userSvc.GetByUsername(ctx, *username)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if err := userSvc.SetPassword(ctx, u.ID, *password); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	fmt.Printf("password reset for %q\n", u.Username)
	return nil
}
