package auth

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	ctxUserID = "user_id"
	ctxOrgID  = "organization_id"
	ctxRole   = "role"
)

// limiterIdle is how long a user's limiter survives without requests.
const limiterIdle = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Middleware struct {
	jwtSecret    []byte
	rateLimiters map[string]*userLimiter
	mu           sync.Mutex
	lastSweep    time.Time
	now          func() time.Time
}

func NewMiddleware(secret string) *Middleware {
	return &Middleware{
		jwtSecret:    []byte(secret),
		rateLimiters: make(map[string]*userLimiter),
		now:          time.Now,
	}
}

// AuthRequired validates the bearer token. Websocket clients cannot set
// headers, so a token query parameter is accepted as well.
func (m *Middleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		claims, err := ParseToken(m.jwtSecret, tokenString)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrSessionExpired) {
				msg = ErrSessionExpired.Error()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxOrgID, claims.Org)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RateLimitPerUser limits requests per authenticated user (must follow AuthRequired)
func (m *Middleware) RateLimitPerUser(r rate.Limit, b int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		m.mu.Lock()
		now := m.now()
		m.sweep(now)
		entry, exists := m.rateLimiters[key]
		if !exists {
			entry = &userLimiter{limiter: rate.NewLimiter(r, b)}
			m.rateLimiters[key] = entry
		}
		entry.lastSeen = now
		limiter := entry.limiter
		m.mu.Unlock()

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// sweep drops limiters idle for longer than limiterIdle, at most once per
// limiterIdle. Callers hold m.mu.
func (m *Middleware) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < limiterIdle {
		return
	}
	m.lastSweep = now
	for key, e := range m.rateLimiters {
		if now.Sub(e.lastSeen) > limiterIdle {
			delete(m.rateLimiters, key)
		}
	}
}

// AdminOnly rejects callers whose token role is not admin.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Role(c) != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

// PlatformOnly admits admins of the operator organization only. Settings and
// metrics shared by every tenant sit behind it. An empty platformOrgID
// rejects everyone.
func PlatformOnly(platformOrgID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if platformOrgID == "" || OrgID(c) != platformOrgID || Role(c) != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

func CORS(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) string { return c.GetString(ctxUserID) }
func OrgID(c *gin.Context) string  { return c.GetString(ctxOrgID) }
func Role(c *gin.Context) string   { return c.GetString(ctxRole) }

// SetIdentity populates the request identity; handler tests use it in place
// of AuthRequired.
func SetIdentity(c *gin.Context, userID, orgID, role string) {
	c.Set(ctxUserID, userID)
	c.Set(ctxOrgID, orgID)
	c.Set(ctxRole, role)
}
