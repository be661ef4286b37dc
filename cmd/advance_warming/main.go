// Command advance_warming moves every active warming schedule to its next
// day. Run it once a day from cron; a second run on the same UTC day is a
// no-op.
package main

import (
	"context"
	"log"
	"time"

	"zapcrm/internal/config"
	"zapcrm/internal/database"
	"zapcrm/internal/warming"
)

func main() {
	cfg := config.LoadConfig()
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := warming.NewService(db).AdvanceAll(ctx)
	if err != nil {
		log.Fatalf("Warming advance failed: %v", err)
	}
	log.Printf("Done: %+v", res)
}
