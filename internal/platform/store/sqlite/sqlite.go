// Package sqlite opens the SQLite database through GORM and migrates the models.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kinship-app/kinship/internal/platform/logutil"
	"github.com/kinship-app/kinship/internal/platform/store"
)

// FileName is the database file created under the data dir.
const FileName = "kinship.db"

// DB wraps the GORM handle.
type DB struct {
	*gorm.DB
	path string
}

// Open creates dataDir if needed, opens the database and runs AutoMigrate for models.
func Open(ctx context.Context, dataDir string, log *slog.Logger, models ...any) (*DB, error) {
	log = logutil.NoopIfNil(log)
	if dataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	path := filepath.Join(dataDir, FileName)
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; concurrent transactions queue for the connection
	// instead of failing with SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("sqlite store ready", "path", path, "models", len(models))
	return &DB{DB: db, path: path}, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close closes the database connection.
func (d *DB) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MapError converts GORM errors into store errors.
func MapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	default:
		return err
	}
}

// The sqlite driver does not translate constraint errors unless
// TranslateError is set, so match the driver message as well.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
