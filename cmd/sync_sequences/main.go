package main

import (
	"log"

	"zapcrm/internal/config"
	"zapcrm/internal/database"
)

func main() {
	cfg := config.LoadConfig()
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Syncing PostgreSQL sequences...")
	if err := database.SyncSequences(db); err != nil {
		log.Fatal(err)
	}
	log.Println("DONE!")
}
