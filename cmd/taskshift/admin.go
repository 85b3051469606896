package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/aliuyar1234/taskshift/internal/validation"
	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative commands",
}

var resetPasswordOpts struct {
	email    string
	password string
	dsn      string
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Set a user's password",
	Long:  "Set a user's password. If --password is omitted, a random password is generated and printed.",
	RunE:  runResetPassword,
}

func init() {
	f := resetPasswordCmd.Flags()
	f.StringVar(&resetPasswordOpts.email, "email", "", "User email")
	f.StringVar(&resetPasswordOpts.password, "password", "", "New password (if empty, generates one)")
	f.StringVar(&resetPasswordOpts.dsn, "db-dsn", "", "Postgres DSN (defaults to TS_DB_DSN)")
	_ = resetPasswordCmd.MarkFlagRequired("email")

	adminCmd.AddCommand(resetPasswordCmd)
	rootCmd.AddCommand(adminCmd)
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	email, err := validation.Email(resetPasswordOpts.email)
	if err != nil {
		return err
	}

	dsn := strings.TrimSpace(resetPasswordOpts.dsn)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("TS_DB_DSN"))
	}
	if dsn == "" {
		return fmt.Errorf("--db-dsn is required (or set TS_DB_DSN)")
	}

	password := resetPasswordOpts.password
	generated := false
	if password == "" {
		if password, err = generatePassword(24); err != nil {
			return fmt.Errorf("failed to generate password: %w", err)
		}
		generated = true
	}
	if err := validation.Password(password); err != nil {
		return err
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer db.Close(pool)

	if err := users.NewPostgresStore(pool).SetPasswordByEmail(ctx, email, passwordHash); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return fmt.Errorf("no user found with email %q", email)
		}
		return fmt.Errorf("failed to update password: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Password updated.")
	if generated {
		fmt.Fprintln(cmd.OutOrStdout(), password)
	}
	return nil
}

func generatePassword(bytesLen int) (string, error) {
	if bytesLen < 8 {
		bytesLen = 8
	}

	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	// URL-safe, printable, without padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
