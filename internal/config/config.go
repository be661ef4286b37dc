package config

import (
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	AppURL     string
	CORSOrigin string

	DBDriver    string
	DatabaseURL string
	DBPath      string

	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	// PlatformOrgID is the operator organization whose admins manage
	// settings shared by every tenant. Empty means nobody can.
	PlatformOrgID string

	// Runtime settings. Read them through Setting once the server runs.
	mu            sync.RWMutex
	GatewayURL    string
	GatewayAPIKey string
	WebhookURL    string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string
	StripePrices        map[string]string

	TTSAPIURL string
	TTSAPIKey string

	AIGatewayURL string
	AIAPIKey     string
	AIModel      string

	IBGEAPIURL   string
	GeoCachePath string

	StorageDir       string
	StoragePublicURL string
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	return &Config{
		Port:       getEnv("PORT", "8080"),
		AppURL:     getEnv("APP_URL", "http://localhost:5173"),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBPath:      getEnv("DB_PATH", "./zapcrm.db"),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),
		PlatformOrgID:  getEnv("PLATFORM_ORG_ID", ""),

		GatewayURL:    getEnv("GATEWAY_URL", "http://localhost:8081"),
		GatewayAPIKey: getEnv("GATEWAY_API_KEY", ""),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIURL:        getEnv("STRIPE_API_URL", "https://api.stripe.com/v1"),
		StripePrices: map[string]string{
			"starter":   getEnv("STRIPE_PRICE_STARTER", ""),
			"pro":       getEnv("STRIPE_PRICE_PRO", ""),
			"business":  getEnv("STRIPE_PRICE_BUSINESS", ""),
			"tokens_1k": getEnv("STRIPE_PRICE_TOKENS_1K", ""),
			"tokens_5k": getEnv("STRIPE_PRICE_TOKENS_5K", ""),
		},

		TTSAPIURL: getEnv("TTS_API_URL", "https://api.elevenlabs.io/v1"),
		TTSAPIKey: getEnv("TTS_API_KEY", ""),

		AIGatewayURL: getEnv("AI_GATEWAY_URL", "https://api.openai.com/v1"),
		AIAPIKey:     getEnv("AI_API_KEY", ""),
		AIModel:      getEnv("AI_MODEL", "gpt-4o-mini"),

		IBGEAPIURL:   getEnv("IBGE_API_URL", "https://servicodados.ibge.gov.br/api/v1/localidades"),
		GeoCachePath: getEnv("GEO_CACHE_PATH", "./geo-cache.bolt"),

		StorageDir:       getEnv("STORAGE_DIR", "./storage"),
		StoragePublicURL: getEnv("STORAGE_PUBLIC_URL", "http://localhost:8080/storage"),
	}
}

// SettingKeys lists the settings that can be changed while the server runs.
var SettingKeys = []string{"GATEWAY_URL", "GATEWAY_API_KEY", "WEBHOOK_URL", "AI_MODEL"}

func (c *Config) field(key string) *string {
	switch key {
	case "GATEWAY_URL":
		return &c.GatewayURL
	case "GATEWAY_API_KEY":
		return &c.GatewayAPIKey
	case "WEBHOOK_URL":
		return &c.WebhookURL
	case "AI_MODEL":
		return &c.AIModel
	}
	return nil
}

// Setting returns the current value of a runtime setting.
func (c *Config) Setting(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f := c.field(key); f != nil {
		return *f
	}
	return ""
}

// SetSetting changes a runtime setting and reports whether key is one.
func (c *Config) SetSetting(key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.field(key)
	if f == nil {
		return false
	}
	*f = value
	return true
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}
