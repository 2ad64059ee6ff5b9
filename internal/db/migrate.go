package db

import (
	"fmt"

	"github.com/loopline-social/guardpost/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := autoMigrate(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}

	// Partial index so the ban middleware check stays cheap; most rows have
	// banned_until IS NULL.
	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_trust_profiles_banned_until
		ON trust_profiles (banned_until)
		WHERE banned_until IS NOT NULL
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create banned_until index: %w", errIndex)
	}

	return nil
}

// migrateSQLite applies the schema for SQLite (dev and tests).
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := autoMigrate(conn); errAutoMigrate != nil {
		return errAutoMigrate
	}
	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_trust_profiles_banned_until
		ON trust_profiles (banned_until)
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create banned_until index: %w", errIndex)
	}
	return nil
}

func autoMigrate(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.TrustProfile{},
		&models.DeviceFingerprint{},
		&models.InviteCode{},
		&models.InviteRelationship{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: auto migrate: %w", errAutoMigrate)
	}
	return nil
}
