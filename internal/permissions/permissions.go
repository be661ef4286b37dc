// Package permissions resolves feature access from a role and optional
// per-user overrides.
package permissions

import (
	"net/http"
	"sort"

	"zapcrm/internal/auth"
	"zapcrm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Feature keys
const (
	Dashboard     = "dashboard"
	Conversations = "conversations"
	Contacts      = "contacts"
	Funnels       = "funnels"
	Deals         = "deals"
	Campaigns     = "campaigns"
	Templates     = "templates"
	Instances     = "instances"
	Warming       = "warming"
	Chatbots      = "chatbots"
	AIAgents      = "ai_agents"
	Billing       = "billing"
	Settings      = "settings"
	Team          = "team"
	Reports       = "reports"
	Export        = "export"
)

var memberDefaults = map[string]bool{
	Dashboard:     true,
	Conversations: true,
	Contacts:      true,
	Funnels:       true,
	Deals:         true,
	Campaigns:     false,
	Templates:     false,
	Instances:     false,
	Warming:       false,
	Chatbots:      false,
	AIAgents:      false,
	Billing:       false,
	Settings:      false,
	Team:          false,
	Reports:       true,
	Export:        false,
}

// Keys returns every known feature key in stable order.
func Keys() []string {
	keys := make([]string, 0, len(memberDefaults))
	for k := range memberDefaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve reports whether role may use key. Admins are never restricted;
// an override wins over the role default; unknown keys are denied.
func Resolve(role string, overrides map[string]bool, key string) bool {
	if role == RoleAdmin {
		return true
	}
	if v, ok := overrides[key]; ok {
		return v
	}
	return memberDefaults[key]
}

// Allowed lists the granted keys, used by the UI to build its menu.
func Allowed(role string, overrides map[string]bool) []string {
	var out []string
	for _, k := range Keys() {
		if Resolve(role, overrides, k) {
			out = append(out, k)
		}
	}
	return out
}

// Checker loads profiles to evaluate feature access per request.
type Checker struct {
	DB *gorm.DB
}

func NewChecker(db *gorm.DB) *Checker {
	return &Checker{DB: db}
}

func (p *Checker) load(c *gin.Context) (string, map[string]bool, error) {
	var profile models.Profile
	err := p.DB.WithContext(c.Request.Context()).
		Where("id = ? AND organization_id = ?", auth.UserID(c), auth.OrgID(c)).
		First(&profile).Error
	if err != nil {
		return "", nil, err
	}
	return profile.Role, profile.PermissionOverrides.Data(), nil
}

// RequirePermission must follow auth.Middleware.AuthRequired.
func (p *Checker) RequirePermission(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, overrides, err := p.load(c)
		if err != nil || !Resolve(role, overrides, key) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

// Mine returns the caller's role and granted feature keys.
func (p *Checker) Mine(c *gin.Context) {
	role, overrides, err := p.load(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "permissions": Allowed(role, overrides)})
}
