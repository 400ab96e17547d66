package dragonbot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation and update, stored in milliseconds.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// CreateDB opens a sqlite or postgres database connection, applies
// engine-specific settings, and migrates the bot's tables.
func CreateDB(
	ctx context.Context,
	databaseType string,
	dsn string,
	opts ...gorm.Option,
) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch databaseType {
	case dbTypeSQLite:
		dialector = sqlite.Open(dsn)
	case dbTypePostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database type: %s", databaseType)
	}

	db, err := gorm.Open(dialector, opts...)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if databaseType == dbTypeSQLite {
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return nil, fmt.Errorf("error getting database handle: %w", sqlErr)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

		for _, pragma := range sqliteExecPragma {
			if err = db.WithContext(ctx).Exec(pragma).Error; err != nil {
				return nil, fmt.Errorf("error executing %q: %w", pragma, err)
			}
		}
	}

	if err = db.WithContext(ctx).AutoMigrate(
		&AIUsage{},
		&UserXP{},
		&JoinConfig{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}

// initDB opens the configured database, if one is configured. A nil return
// with no error means persistence is disabled and dependent features
// degrade per their own rules.
func (d *DragonBot) initDB(ctx context.Context) (*gorm.DB, error) {
	if d.config.Database == "" {
		d.logger.Warn(
			"no database configured, AI quota will not be enforced and " +
				"leveling/join-manager features are disabled",
		)
		return nil, nil
	}

	gormLogger := newGORMLogger(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level: d.config.DatabaseLogLevel,
			},
		),
		d.config.DatabaseSlowThreshold,
	)

	db, err := CreateDB(
		ctx,
		d.config.DatabaseType,
		d.config.Database,
		&gorm.Config{Logger: gormLogger},
	)
	if err != nil {
		return nil, err
	}
	d.logger.Info(
		"database initialized",
		slog.String("database_type", d.config.DatabaseType),
	)
	return db, nil
}
