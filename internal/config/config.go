// Package config loads the server configuration.
//
// Values come from the process environment, optionally seeded from a .env
// file. All parsing happens in FromEnv over a plain map so it can be tested
// without touching the real environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StaticKeyPrefix marks environment variables that define static API keys:
// API_KEY_JOEY=abc123 maps the secret "abc123" to the alias "joey".
const StaticKeyPrefix = "API_KEY_"

type Config struct {
	Port     int
	LogLevel slog.Level

	// DBPath is the SQLite file used when DatabaseURL is empty.
	DBPath      string
	DatabaseURL string

	OAuthEnabled  bool
	APIKeyEnabled bool

	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string
	JWTSecret          string

	DefaultPropertyID  string
	ServiceAccountJSON string
	GA4Timeout         time.Duration
	OAuthTimeout       time.Duration // per call to Google's OAuth and Admin APIs

	// StaticKeys maps secret -> alias.
	StaticKeys map[string]string

	RateLimitMax        int
	RateLimitWindow     time.Duration
	AuthRateLimitMax    int
	AuthRateLimitWindow time.Duration
	RedisURL            string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// a missing .env is normal in production
	_ = godotenv.Load()
	return FromEnv(environ())
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}
	return env
}

// FromEnv builds a Config from an environment mapping.
func FromEnv(env map[string]string) (*Config, error) {
	l := loader{env: env}

	cfg := &Config{
		Port:                l.intOrDefault("PORT", 8080),
		DBPath:              l.orDefault("DB_PATH", "data/ga4.db"),
		DatabaseURL:         l.orDefault("DATABASE_URL", ""),
		OAuthEnabled:        l.boolOrDefault("ENABLE_OAUTH_MODE", true),
		APIKeyEnabled:       l.boolOrDefault("ENABLE_API_KEY_MODE", true),
		GoogleClientID:      l.orDefault("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  l.orDefault("GOOGLE_CLIENT_SECRET", ""),
		JWTSecret:           l.orDefault("JWT_SECRET", ""),
		DefaultPropertyID:   l.orDefault("GA4_PROPERTY_ID", ""),
		ServiceAccountJSON:  l.orDefault("SERVICE_ACCOUNT_JSON", ""),
		GA4Timeout:          l.secondsOrDefault("GA4_TIMEOUT_SECONDS", 30),
		OAuthTimeout:        l.secondsOrDefault("OAUTH_TIMEOUT_SECONDS", 10),
		StaticKeys:          LoadStaticKeys(env),
		RateLimitMax:        l.intOrDefault("RATE_LIMIT_MAX_REQUESTS", 200),
		RateLimitWindow:     l.secondsOrDefault("RATE_LIMIT_WINDOW_SECONDS", 600),
		AuthRateLimitMax:    l.intOrDefault("AUTH_RATE_LIMIT_MAX_REQUESTS", 30),
		AuthRateLimitWindow: l.secondsOrDefault("AUTH_RATE_LIMIT_WINDOW_SECONDS", 60),
		RedisURL:            l.orDefault("REDIS_URL", ""),
	}
	cfg.OAuthRedirectURL = l.orDefault("OAUTH_REDIRECT_URI",
		fmt.Sprintf("http://localhost:%d/auth/callback", cfg.Port))

	if raw := l.orDefault("LOG_LEVEL", "info"); raw != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			l.fail("LOG_LEVEL", raw, err)
		}
	}

	if l.err != nil {
		return nil, l.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_MAX_REQUESTS and RATE_LIMIT_WINDOW_SECONDS must be positive")
	}
	if c.AuthRateLimitMax <= 0 || c.AuthRateLimitWindow <= 0 {
		return fmt.Errorf("config: AUTH_RATE_LIMIT_MAX_REQUESTS and AUTH_RATE_LIMIT_WINDOW_SECONDS must be positive")
	}
	if c.GA4Timeout <= 0 {
		return fmt.Errorf("config: GA4_TIMEOUT_SECONDS must be positive")
	}
	if c.OAuthTimeout <= 0 {
		return fmt.Errorf("config: OAUTH_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// OAuthConfigured reports whether Google OAuth credentials are present.
func (c *Config) OAuthConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// LoadStaticKeys derives the static key table from an environment mapping.
// Every API_KEY_<ALIAS>=<secret> entry with a non-empty alias and secret
// yields secret -> lower(ALIAS). When two aliases share a secret, the
// alphabetically last variable wins.
func LoadStaticKeys(env map[string]string) map[string]string {
	names := make([]string, 0, len(env))
	for name := range env {
		if strings.HasPrefix(name, StaticKeyPrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	keys := make(map[string]string, len(names))
	for _, name := range names {
		alias := strings.ToLower(strings.TrimPrefix(name, StaticKeyPrefix))
		secret := strings.TrimSpace(env[name])
		if alias == "" || secret == "" {
			continue
		}
		keys[secret] = alias
	}
	return keys
}

// loader collects the first parse error so FromEnv can report it once.
type loader struct {
	env map[string]string
	err error
}

func (l *loader) fail(key, raw string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("config: invalid %s %q: %w", key, raw, err)
	}
}

func (l *loader) orDefault(key, def string) string {
	if v, ok := l.env[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (l *loader) intOrDefault(key string, def int) int {
	raw := l.orDefault(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		l.fail(key, raw, err)
		return def
	}
	return n
}

func (l *loader) secondsOrDefault(key string, def int) time.Duration {
	return time.Duration(l.intOrDefault(key, def)) * time.Second
}

func (l *loader) boolOrDefault(key string, def bool) bool {
	raw := l.orDefault(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		l.fail(key, raw, err)
		return def
	}
	return b
}
