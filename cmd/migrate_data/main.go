// Command migrate_data copies every table from the local SQLite file at
// DB_PATH into the PostgreSQL database at DATABASE_URL. Rows already present
// in the destination are left alone, so the copy can be rerun.
package main

import (
	"log"
	"reflect"

	"zapcrm/internal/config"
	"zapcrm/internal/database"
	"zapcrm/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const batchSize = 500

func main() {
	cfg := config.LoadConfig()

	sqliteDB, err := database.OpenSQLite(cfg.DBPath, logger.Warn)
	if err != nil {
		log.Fatalf("Failed to connect to SQLite: %v", err)
	}
	log.Printf("Connected to SQLite at %s", cfg.DBPath)

	cfg.DBDriver = "postgres"
	pgDB, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	log.Println("Starting data migration...")
	for _, model := range models.All() {
		if err := migrateTable(sqliteDB, pgDB, model); err != nil {
			log.Fatalf("Migration stopped: %v", err)
		}
	}
	if err := database.SyncSequences(pgDB); err != nil {
		log.Fatalf("Failed to sync sequences: %v", err)
	}
	log.Println("Migration completed!")
}

func migrateTable(src, dst *gorm.DB, model interface{}) error {
	stmt := &gorm.Statement{DB: src}
	if err := stmt.Parse(model); err != nil {
		return err
	}
	table := stmt.Schema.Table
	if !src.Migrator().HasTable(model) {
		log.Printf("Skipping %s: not in source", table)
		return nil
	}

	rows := reflect.New(reflect.SliceOf(reflect.TypeOf(model).Elem())).Interface()
	copied := 0
	res := src.Model(model).FindInBatches(rows, batchSize, func(tx *gorm.DB, batch int) error {
		if err := dst.Clauses(clause.OnConflict{DoNothing: true}).Create(rows).Error; err != nil {
			return err
		}
		copied += int(tx.RowsAffected)
		return nil
	})
	if res.Error != nil {
		log.Printf("Error migrating %s: %v", table, res.Error)
		return res.Error
	}
	log.Printf("Successfully migrated %s (%d rows)", table, copied)
	return nil
}
