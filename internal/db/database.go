// Package db opens the relational database and the Redis connection.
package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/pkg/models"
)

// Database wraps the GORM database instance
type Database struct {
	DB      *gorm.DB
	dialect string
}

// Config holds database configuration
type Config struct {
	// URL is a Postgres DSN. Empty selects sqlite at SQLitePath.
	URL        string
	SQLitePath string
	// LogLevel is the gorm log level; zero keeps warnings only.
	LogLevel logger.LogLevel
}

// NewDatabase connects and runs migrations.
func NewDatabase(config *Config) (*Database, error) {
	level := config.LogLevel
	if level == 0 {
		level = logger.Warn
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(level),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		dialector gorm.Dialector
		dialect   string
	)
	if config.URL != "" {
		dialector, dialect = postgres.Open(config.URL), "postgres"
	} else {
		path := config.SQLitePath
		if path == "" {
			path = "keyvex.db"
		}
		dialector, dialect = sqlite.Open(path), "sqlite"
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if dialect == "sqlite" {
		// in-memory databases are per connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	database := &Database{DB: db, dialect: dialect}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.L().Info("database connected", zap.String("dialect", dialect))
	return database, nil
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	if err := d.DB.AutoMigrate(&models.ProductTool{}); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	d.createIndexes()
	return nil
}

// createIndexes adds partial indexes gorm tags cannot express. Failures are
// logged; the indexes only speed up listings.
func (d *Database) createIndexes() {
	if d.dialect != "postgres" {
		return
	}
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_product_tools_user_status ON product_tools(user_id, status, updated_at DESC) WHERE deleted_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_product_tools_published ON product_tools(slug) WHERE status = 'published' AND deleted_at IS NULL",
	}
	for _, stmt := range stmts {
		if err := d.DB.Exec(stmt).Error; err != nil {
			logging.L().Warn("create index", zap.String("sql", strings.Fields(stmt)[5]), zap.Error(err))
		}
	}
}

// Dialect returns "postgres" or "sqlite".
func (d *Database) Dialect() string { return d.dialect }

// Health checks database connectivity
func (d *Database) Health() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetStats returns database connection statistics
func (d *Database) GetStats() map[string]interface{} {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}

	stats := sqlDB.Stats()
	return map[string]interface{}{
		"dialect":              d.dialect,
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}
