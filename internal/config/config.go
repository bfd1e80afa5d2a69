// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible
// defaults. All timeouts and operational parameters are configurable.
//
// Configuration categories:
//   - Core: listen port, JWT/admin secrets, database path
//   - Session: idle TTL, sweeper interval
//   - Access: domain allowlist, public usage flag, free-tier flag
//   - Retention: revoked-key TTL and cleanup interval
//   - Contact: optional operator contact surfaced on GET /contact
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ContactConfig holds the optional operator contact surfaced on GET /contact.
type ContactConfig struct {
	Name    string
	Email   string
	Phone   string
	Website string
}

// Empty reports whether no contact field was configured.
func (c ContactConfig) Empty() bool {
	return c.Name == "" && c.Email == "" && c.Phone == "" && c.Website == ""
}

// Config holds all application configuration.
type Config struct {
	Port   string
	DBPath string

	JWTSecret        string
	JWTSecretIsRandom bool
	AdminKey         string

	SessionTTL       time.Duration
	CleanupInterval  time.Duration

	AllowedDomains string // "*" or comma list

	UsagePublic      bool
	FreeAPIKeyActive bool

	StaticDir string

	Contact ContactConfig

	RevokedKeyTTLDays           int
	RevokedKeyCleanupInterval   time.Duration

	MaxRequestBodyBytes int64

	// UpstreamBaseURL is the third-party caption-ingestion endpoint this
	// relay forwards to. Not named in the distilled environment-controls
	// table, but component A has nothing to POST to without it. The
	// per-session stream key is appended as a URL path segment.
	UpstreamBaseURL string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	jwtSecret := getEnv("JWT_SECRET", "")
	isRandom := false
	if jwtSecret == "" {
		generated, err := randomSecret(32)
		if err != nil {
			return nil, fmt.Errorf("generate random jwt secret: %w", err)
		}
		jwtSecret = generated
		isRandom = true
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./data/relay.db"),
		JWTSecret:         jwtSecret,
		JWTSecretIsRandom: isRandom,
		AdminKey:          getEnv("ADMIN_KEY", ""),
		SessionTTL:        getEnvDuration("SESSION_TTL", 2*time.Hour),
		CleanupInterval:   getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute),
		AllowedDomains:    getEnv("ALLOWED_DOMAINS", "*"),
		UsagePublic:       getEnvBool("USAGE_PUBLIC", false),
		FreeAPIKeyActive:  getEnvBool("FREE_APIKEY_ACTIVE", false),
		StaticDir:         getEnv("STATIC_DIR", ""),
		Contact: ContactConfig{
			Name:    getEnv("CONTACT_NAME", ""),
			Email:   getEnv("CONTACT_EMAIL", ""),
			Phone:   getEnv("CONTACT_PHONE", ""),
			Website: getEnv("CONTACT_WEBSITE", ""),
		},
		RevokedKeyTTLDays:         getEnvInt("REVOKED_KEY_TTL_DAYS", 30),
		RevokedKeyCleanupInterval: getEnvDuration("REVOKED_KEY_CLEANUP_INTERVAL", 24*time.Hour),
		MaxRequestBodyBytes:       getEnvInt64("MAX_REQUEST_BODY_BYTES", 64*1024),
		UpstreamBaseURL:           getEnv("UPSTREAM_BASE_URL", "https://ingest.captions.example/v1/stream"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be > 0")
	}
	if c.RevokedKeyTTLDays <= 0 {
		return fmt.Errorf("REVOKED_KEY_TTL_DAYS must be > 0")
	}
	return nil
}

// AdminEnabled reports whether an admin key is configured. Admin routes are
// always mounted; without a key they answer 503.
func (c *Config) AdminEnabled() bool {
	return c.AdminKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
