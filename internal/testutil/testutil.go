// Package testutil builds fixtures shared by handler and service tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"zapcrm/internal/auth"
	"zapcrm/internal/database"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// DB returns a migrated in-memory sqlite database private to the test.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	db, err := database.OpenSQLite(dsn, logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

// Org creates an organization with an admin and a member profile.
func Org(t *testing.T, db *gorm.DB, name string) (org models.Organization, admin, member models.Profile) {
	t.Helper()
	org = models.Organization{Name: name}
	if err := db.Create(&org).Error; err != nil {
		t.Fatal(err)
	}
	admin = models.Profile{ID: org.ID + "-admin", OrganizationID: org.ID, Name: "Admin", Role: "admin"}
	member = models.Profile{ID: org.ID + "-member", OrganizationID: org.ID, Name: "Member", Role: "member"}
	if err := db.Create(&admin).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&member).Error; err != nil {
		t.Fatal(err)
	}
	return org, admin, member
}

// Router returns a gin engine whose requests carry the given identity.
func Router(p models.Profile) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		auth.SetIdentity(c, p.ID, p.OrganizationID, p.Role)
		c.Next()
	})
	return r
}
