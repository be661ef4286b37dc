// Command import_flow loads flow editor exports into an organization's
// chatbot flows.
//
//	import_flow -org <organization id> [-keywords menu,oi] flow1.json flow2.json
//
// Each file holds {"name": ..., "nodes": [...], "edges": [...]}. A flow with
// the same name in the organization has its graph replaced.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"zapcrm/internal/automation"
	"zapcrm/internal/config"
	"zapcrm/internal/database"
	"zapcrm/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type export struct {
	Name string `json:"name"`
	automation.Graph
}

func main() {
	orgID := flag.String("org", "", "organization id")
	keywords := flag.String("keywords", "", "comma separated trigger keywords for new flows")
	flag.Parse()
	if *orgID == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.LoadConfig()
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	var org models.Organization
	if err := db.First(&org, "id = ?", *orgID).Error; err != nil {
		log.Fatalf("Organization %s: %v", *orgID, err)
	}

	failed := 0
	for _, path := range flag.Args() {
		log.Printf("Processing flow: %s", path)
		if err := importFile(db, org.ID, path, splitKeywords(*keywords)); err != nil {
			log.Printf("Error importing %s: %v", path, err)
			failed++
			continue
		}
		log.Printf("Successfully imported %s", path)
	}
	if failed > 0 {
		os.Exit(1)
	}
	log.Println("Done!")
}

func splitKeywords(s string) datatypes.JSONSlice[string] {
	out := datatypes.JSONSlice[string]{}
	for _, kw := range strings.Split(s, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func importFile(db *gorm.DB, orgID, path string, keywords datatypes.JSONSlice[string]) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var ex export
	if err := json.Unmarshal(raw, &ex); err != nil {
		return err
	}
	if err := ex.Graph.Validate(); err != nil {
		return err
	}
	name := strings.TrimSpace(ex.Name)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return db.Transaction(func(tx *gorm.DB) error {
		flow := models.ChatbotFlow{OrganizationID: orgID, Name: name, TriggerKeywords: keywords, Enabled: true}
		if err := tx.Where("organization_id = ? AND name = ?", orgID, name).FirstOrCreate(&flow).Error; err != nil {
			return err
		}
		return automation.SaveGraph(tx, flow.ID, ex.Graph)
	})
}
