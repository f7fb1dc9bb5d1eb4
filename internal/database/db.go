package database

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// Dialector picks the driver for a DSN: "sqlite:<path>" and "file:" DSNs open
// sqlite, anything else is treated as a PostgreSQL DSN.
func Dialector(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "file:"):
		return sqlite.Open(dsn)
	default:
		return postgres.Open(dsn)
	}
}

// Connect establishes the database connection
func Connect(dsn string, logLevel logger.LogLevel) error {
	var err error

	DB, err = gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if DB.Dialector.Name() == "sqlite" {
		// sqlite allows a single writer
		sqlDB, err := DB.DB()
		if err != nil {
			return fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	log.Printf("Database connection established (%s)", DB.Dialector.Name())
	return nil
}

// ParseLogLevel maps DB_LOG_LEVEL values to gorm log levels
func ParseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Models lists every table the service owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&Call{},
		&AuditLogEntry{},
		&WeatherOverlap{},
		&ForecastBucket{},
		&EvaluationSettings{},
	}
}

// Migrate runs migrations against db
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// AutoMigrate runs database migrations on the global connection
func AutoMigrate() error {
	log.Println("Running database migrations...")
	if err := Migrate(DB); err != nil {
		return err
	}
	log.Println("Database migrations completed successfully")
	return nil
}

// InitializeDefaults creates default records if they don't exist
func InitializeDefaults(defaults *EvaluationSettings) error {
	var count int64
	if err := DB.Model(&EvaluationSettings{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count evaluation settings: %w", err)
	}
	if count > 0 {
		return nil
	}
	if defaults == nil {
		defaults = NewDefaultEvaluationSettings()
	}
	if err := DB.Create(defaults).Error; err != nil {
		return fmt.Errorf("failed to create default evaluation settings: %w", err)
	}
	log.Println("Created default evaluation settings")
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetOrCreateEvaluationSettings retrieves or creates evaluation settings (singleton).
func GetOrCreateEvaluationSettings(db *gorm.DB) (*EvaluationSettings, error) {
	var settings EvaluationSettings
	result := db.First(&settings)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		settings = *NewDefaultEvaluationSettings()
		if err := db.Create(&settings).Error; err != nil {
			return nil, err
		}
	} else if result.Error != nil {
		return nil, result.Error
	}
	return &settings, nil
}

// UpdateEvaluationSettings saves evaluation settings.
func UpdateEvaluationSettings(db *gorm.DB, settings *EvaluationSettings) error {
	return db.Save(settings).Error
}
