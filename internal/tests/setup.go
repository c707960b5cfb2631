package tests

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
)

const (
	// MigrationDir is the path to migrations relative to the module root.
	MigrationDir = "internal/db/migrations"
	// MigrationDirFromInternalTests is used when go test ./... runs tests from internal/tests.
	MigrationDirFromInternalTests = "../db/migrations"
)

// ResolveMigrationDir returns the first existing directory of:
//   - internal/db/migrations (CWD=module root)
//   - ../db/migrations (CWD=internal/tests, e.g. go test ./...)
// Returns empty string if none exists.
func ResolveMigrationDir() string {
	for _, dir := range []string{MigrationDir, MigrationDirFromInternalTests} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			abs, _ := filepath.Abs(dir)
			return abs
		}
	}
	return ""
}

// RunMigrations runs goose Up using the resolved migration directory.
func RunMigrations(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	dir := ResolveMigrationDir()
	if dir == "" {
		return fmt.Errorf("migrations directory not found (tried %q, %q); run tests from module root", MigrationDir, MigrationDirFromInternalTests)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// TruncateTables clears all domain tables and re-arms the bootstrap latch so
// the next OTP issued is the fixed bootstrap code.
func TruncateTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "TRUNCATE TABLE cashback_entries, api_keys, sessions, devices, otp_transactions, users RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return ResetBootstrapLatch(ctx, db)
}

// ResetBootstrapLatch re-arms the bootstrap flag. The next successful OTP
// issue wins the latch and uses the fixed bootstrap code, which is the only
// way tests can know a dispatched code.
func ResetBootstrapLatch(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "UPDATE system_flags SET enabled = false WHERE name = 'bootstrap_otp_issued'")
	if err != nil {
		return fmt.Errorf("reset bootstrap latch: %w", err)
	}
	return nil
}
