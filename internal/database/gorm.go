package database

import (
	"errors"
	"fmt"
	"log"

	"zapcrm/internal/config"
	"zapcrm/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects with the driver named in cfg and runs the migrations.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres driver")
		}
		dialector = postgres.Open(cfg.DatabaseURL)
	case "sqlite":
		dialector = sqlite.Open(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
	}
	log.Printf("Connected to %s successfully", cfg.DBDriver)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a sqlite database without migrating it.
func OpenSQLite(path string, level logger.LogLevel) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migration: %w", err)
	}
	log.Println("Database migration completed")
	return nil
}

// SyncConfig overlays stored settings onto cfg, seeding the table from cfg
// for keys that were never saved.
func SyncConfig(db *gorm.DB, cfg *config.Config) {
	for _, key := range config.SettingKeys {
		var setting models.SystemSetting
		err := db.Where("key = ?", key).First(&setting).Error
		switch {
		case err == nil:
			if setting.Value != "" {
				cfg.SetSetting(key, setting.Value)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if v := cfg.Setting(key); v != "" {
				if err := db.Create(&models.SystemSetting{Key: key, Value: v}).Error; err != nil {
					log.Printf("Error seeding setting %s: %v", key, err)
				}
			}
		default:
			log.Printf("Error loading setting %s: %v", key, err)
		}
	}
	log.Println("System settings synchronized from database")
}

var ErrUnknownSetting = errors.New("unknown setting")

// SaveSetting persists one setting and applies it to cfg.
func SaveSetting(db *gorm.DB, cfg *config.Config, key, value string) error {
	if !isSettingKey(key) {
		return fmt.Errorf("%w %q", ErrUnknownSetting, key)
	}
	if err := db.Save(&models.SystemSetting{Key: key, Value: value}).Error; err != nil {
		return err
	}
	cfg.SetSetting(key, value)
	return nil
}

func isSettingKey(key string) bool {
	for _, k := range config.SettingKeys {
		if k == key {
			return true
		}
	}
	return false
}

// SerialTables returns the tables whose primary key is an auto-increment
// integer, in migration order.
func SerialTables(db *gorm.DB) ([]string, error) {
	var tables []string
	for _, m := range models.All() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return nil, err
		}
		if f := stmt.Schema.PrioritizedPrimaryField; f != nil && f.AutoIncrement {
			tables = append(tables, stmt.Schema.Table)
		}
	}
	return tables, nil
}

// SyncSequences moves each PostgreSQL id sequence past the highest stored
// id. Rows copied with explicit ids leave the sequences behind.
func SyncSequences(db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	tables, err := SerialTables(db)
	if err != nil {
		return err
	}
	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence(?, 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query, table).Error; err != nil {
			return fmt.Errorf("sync sequence for %s: %w", table, err)
		}
		log.Printf("Successfully synced sequence for %s", table)
	}
	return nil
}
