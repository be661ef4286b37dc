package database

import (
	"fmt"
	"sync"
	"testing"

	"zapcrm/internal/config"
	"zapcrm/internal/models"

	"gorm.io/gorm/logger"
)

func TestSyncConfigAndSaveSetting(t *testing.T) {
	db, err := OpenSQLite("file:settings?mode=memory&cache=shared", logger.Silent)
	if err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{GatewayURL: "http://env-gateway", AIModel: "env-model"}
	db.Create(&models.SystemSetting{Key: "AI_MODEL", Value: "stored-model"})

	SyncConfig(db, cfg)
	if got := cfg.Setting("AI_MODEL"); got != "stored-model" {
		t.Errorf("AI_MODEL = %q, want stored value", got)
	}
	var seeded models.SystemSetting
	if err := db.First(&seeded, "key = ?", "GATEWAY_URL").Error; err != nil || seeded.Value != "http://env-gateway" {
		t.Errorf("GATEWAY_URL not seeded: %v %q", err, seeded.Value)
	}

	if err := SaveSetting(db, cfg, "WEBHOOK_URL", "https://hooks.example"); err != nil {
		t.Fatal(err)
	}
	if got := cfg.Setting("WEBHOOK_URL"); got != "https://hooks.example" {
		t.Errorf("WEBHOOK_URL = %q", got)
	}
	if err := SaveSetting(db, cfg, "JWT_SECRET", "x"); err == nil {
		t.Error("expected unknown setting error")
	}
}

func TestSaveSettingWhileClientsRead(t *testing.T) {
	db, err := OpenSQLite("file:settings_concurrent?mode=memory&cache=shared", logger.Silent)
	if err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{GatewayURL: "http://gw-0"}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = cfg.Setting("GATEWAY_URL")
				}
			}
		}()
	}
	for i := 1; i <= 20; i++ {
		if err := SaveSetting(db, cfg, "GATEWAY_URL", fmt.Sprintf("http://gw-%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()

	if got := cfg.Setting("GATEWAY_URL"); got != "http://gw-20" {
		t.Errorf("GATEWAY_URL = %q", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(&config.Config{DBDriver: "mysql"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(&config.Config{DBDriver: "postgres"}); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

func TestSerialTables(t *testing.T) {
	db, err := OpenSQLite("file:serial?mode=memory&cache=shared", logger.Silent)
	if err != nil {
		t.Fatal(err)
	}
	tables, err := SerialTables(db)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"tag_assignments", "campaign_recipients", "automation_logs", "flow_nodes", "flow_edges"}
	if len(tables) != len(want) {
		t.Fatalf("tables = %v, want %v", tables, want)
	}
	for i := range want {
		if tables[i] != want[i] {
			t.Errorf("tables[%d] = %q, want %q", i, tables[i], want[i])
		}
	}
	if err := SyncSequences(db); err != nil {
		t.Errorf("sqlite should be a no-op: %v", err)
	}
}
