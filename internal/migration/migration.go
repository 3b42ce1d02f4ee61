package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/railzwaylabs/paygate/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationsTable = "paygate_schema_migrations"

// Run brings the schema up to date. Postgres uses the embedded SQL
// migrations under an advisory lock; sqlite (local runs and tests) uses
// gorm AutoMigrate over the domain models.
func Run(conn *gorm.DB, driver string, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("migration")

	switch driver {
	case "sqlite":
		if err := conn.AutoMigrate(domain.Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		log.Info("sqlite schema migrated")
		return nil
	case "postgres":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		fingerprint, err := RunMigrations(sqlDB)
		if err != nil {
			return err
		}
		log.Info("postgres schema migrated",
			zap.Uint("version", fingerprint.Version),
			zap.String("checksum", fingerprint.Checksum))
		return nil
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}
}

// RunMigrations applies all embedded migrations and returns the fingerprint
// of the schema now in place.
func RunMigrations(db *sql.DB) (Fingerprint, error) {
	if db == nil {
		return Fingerprint{}, errors.New("migration database handle is required")
	}
	fingerprint, err := SchemaFingerprint()
	if err != nil {
		return Fingerprint{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	unlock, err := acquireAdvisoryLock(ctx, db)
	if err != nil {
		return Fingerprint{}, err
	}
	defer func() {
		_ = unlock(context.Background())
	}()

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return Fingerprint{}, fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return Fingerprint{}, fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("create migrator: %w", err)
	}

	if _, err := ensureNotDirty(migrator); err != nil {
		return Fingerprint{}, err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return Fingerprint{}, fmt.Errorf("apply migrations: %w", upErr)
	}

	currentVersion, err := ensureNotDirty(migrator)
	if err != nil {
		return Fingerprint{}, err
	}
	if currentVersion != fingerprint.Version {
		return Fingerprint{}, fmt.Errorf("schema version mismatch after migrate: got %d want %d", currentVersion, fingerprint.Version)
	}
	return fingerprint, nil
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	if migrator == nil {
		return 0, errors.New("migrator is required")
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}
