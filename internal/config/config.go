// ===========================================
// Package config - Application Configuration
// ===========================================
// Configuration is layered, lowest priority first:
//
//  1. configuration/base.yml
//  2. configuration/<APP_ENVIRONMENT>.yml  (local | production)
//  3. configuration/generator.yml          (short-code engine settings)
//  4. environment variables prefixed APP_ with "__" as the
//     nested-key separator (APP_APPLICATION__PORT=9000)
//
// PATTERN: Load once at startup, validate once, pass the struct around.
// ===========================================

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// DefaultAlphabet is the base-62 character set used when the
// configuration does not override shortener.alphabet.
const DefaultAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Config holds all application configuration, grouped by concern.
type Config struct {
	Application  ApplicationConfig `mapstructure:"application"`
	Database     DatabaseConfig    `mapstructure:"database"`
	Redis        RedisConfig       `mapstructure:"redis"`
	RateLimiting RateLimitConfig   `mapstructure:"rate_limiting"`
	Shortener    ShortenerConfig   `mapstructure:"shortener"`
	Auth         AuthConfig        `mapstructure:"auth"`
}

// ApplicationConfig contains HTTP server settings.
type ApplicationConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	APIKey    string `mapstructure:"api_key"` // UUID, validated in Validate()
	Templates string `mapstructure:"templates"`
	BaseURL   string `mapstructure:"base_url"`

	// ParsedAPIKey is APIKey after UUID validation.
	ParsedAPIKey uuid.UUID `mapstructure:"-"`
}

// DatabaseConfig selects and configures the persistent store.
// Type is "sqlite" or "postgres". For sqlite, DatabasePath (or URL)
// is a file path; ":memory:" is accepted for tests.
type DatabaseConfig struct {
	Type            string `mapstructure:"type"`
	URL             string `mapstructure:"url"`
	DatabasePath    string `mapstructure:"database_path"`
	CreateIfMissing bool   `mapstructure:"create_if_missing"`
	MaxConnections  int    `mapstructure:"max_connections"`
	MinConnections  int    `mapstructure:"min_connections"`
}

// ConnectionString resolves the backend-specific connection string.
func (d DatabaseConfig) ConnectionString() string {
	if d.Type == "sqlite" && d.DatabasePath != "" {
		return d.DatabasePath
	}
	return d.URL
}

// RedisConfig configures the optional hot-URL cache.
// An empty URL disables caching entirely.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// RateLimitConfig contains token-bucket settings for the shorten endpoints.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// ShortenerConfig contains short-code generation settings.
type ShortenerConfig struct {
	Length   int          `mapstructure:"length"`
	Alphabet string       `mapstructure:"alphabet"`
	Engine   EngineConfig `mapstructure:"engine"`
}

// EngineConfig selects the generator engine. Kind is "random" or
// "sequence"; Sequence must be present when Kind is "sequence".
type EngineConfig struct {
	Kind     string          `mapstructure:"kind"`
	Sequence *SequenceConfig `mapstructure:"sequence"`
}

// SequenceConfig configures the block-allocating sequence engine.
type SequenceConfig struct {
	BlockSize       uint64 `mapstructure:"block_size"`
	PersistInterval uint64 `mapstructure:"persist_interval"`
	StatePath       string `mapstructure:"state_path"`
}

// AuthConfig contains token, hashing, and lockout settings.
// Pepper is a process-wide secret mixed into every hash; it lives in
// configuration and never in the database.
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	Pepper     string        `mapstructure:"pepper"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`

	ChallengeTTL      time.Duration `mapstructure:"challenge_ttl"`
	ChallengeCooldown time.Duration `mapstructure:"challenge_cooldown"`
	MaxCodeAttempts   int           `mapstructure:"max_code_attempts"`

	Lockout LockoutConfig `mapstructure:"lockout"`
}

// LockoutConfig fixes the sign-in lockout policy: a user locks after
// UserMaxFailures failed attempts inside Window, an IP after
// IPMaxFailures. Zero values disable the corresponding check.
type LockoutConfig struct {
	UserMaxFailures int           `mapstructure:"user_max_failures"`
	IPMaxFailures   int           `mapstructure:"ip_max_failures"`
	Window          time.Duration `mapstructure:"window"`
}

// Load reads the layered configuration from dir and the environment.
func Load(dir string) (*Config, error) {
	environment := os.Getenv("APP_ENVIRONMENT")
	if environment == "" {
		environment = "local"
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(fmt.Sprintf("%s/base.yml", dir))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read base configuration: %w", err)
	}

	// Environment layer overrides base; generator layer carries the
	// short-code engine settings. Both are optional files.
	for _, name := range []string{environment, "generator"} {
		v.SetConfigFile(fmt.Sprintf("%s/%s.yml", dir, name))
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(*os.PathError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to merge %s configuration: %w", name, err)
			}
		}
	}

	// APP_DATABASE__URL=... overrides database.url, and so on.
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.host", "127.0.0.1")
	v.SetDefault("application.port", 8000)
	v.SetDefault("application.base_url", "http://localhost:8000")
	v.SetDefault("database.create_if_missing", false)
	v.SetDefault("redis.cache_ttl", time.Hour)
	v.SetDefault("rate_limiting.enabled", true)
	v.SetDefault("rate_limiting.requests_per_second", 5.0)
	v.SetDefault("rate_limiting.burst_size", 10)
	v.SetDefault("shortener.length", 6)
	v.SetDefault("shortener.alphabet", DefaultAlphabet)
	v.SetDefault("shortener.engine.kind", "random")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 30*24*time.Hour)
	v.SetDefault("auth.challenge_ttl", time.Hour)
	v.SetDefault("auth.challenge_cooldown", time.Minute)
	v.SetDefault("auth.max_code_attempts", 5)
	v.SetDefault("auth.lockout.user_max_failures", 5)
	v.SetDefault("auth.lockout.ip_max_failures", 10)
	v.SetDefault("auth.lockout.window", 15*time.Minute)
}

// Validate checks cross-field invariants once, at startup.
func (c *Config) Validate() error {
	key, err := uuid.Parse(c.Application.APIKey)
	if err != nil {
		return fmt.Errorf("application.api_key must be a UUID: %w", err)
	}
	c.Application.ParsedAPIKey = key

	switch c.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.type must be sqlite or postgres, got %q", c.Database.Type)
	}

	if err := c.Shortener.Validate(); err != nil {
		return err
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set")
	}
	if c.Auth.Pepper == "" {
		return fmt.Errorf("auth.pepper must be set")
	}
	return nil
}

// Validate enforces the generator invariants: length >= 5, an alphabet
// of at least 2 distinct characters, and positive sequence parameters.
func (s *ShortenerConfig) Validate() error {
	if s.Length < 5 {
		return fmt.Errorf("shortener.length must be >= 5, got %d", s.Length)
	}
	if s.Alphabet == "" {
		s.Alphabet = DefaultAlphabet
	}
	seen := make(map[rune]bool)
	for _, r := range s.Alphabet {
		if seen[r] {
			return fmt.Errorf("shortener.alphabet has duplicate character %q", r)
		}
		seen[r] = true
	}
	if len(seen) < 2 {
		return fmt.Errorf("shortener.alphabet must contain at least 2 distinct characters")
	}

	switch s.Engine.Kind {
	case "random":
	case "sequence":
		seq := s.Engine.Sequence
		if seq == nil {
			return fmt.Errorf("shortener.engine.sequence must be set when kind=sequence")
		}
		if seq.BlockSize == 0 {
			return fmt.Errorf("shortener.engine.sequence.block_size must be > 0")
		}
		if seq.PersistInterval == 0 {
			return fmt.Errorf("shortener.engine.sequence.persist_interval must be > 0")
		}
	default:
		return fmt.Errorf("shortener.engine.kind must be random or sequence, got %q", s.Engine.Kind)
	}
	return nil
}

// ProductionEnv reports whether cookies must carry the Secure flag.
func ProductionEnv() bool {
	return os.Getenv("APP_ENV") == "production"
}

// SnapshotsDisabled reports whether Bloom snapshot persistence is
// turned off via the BLOOM_SNAPSHOTS toggle.
func SnapshotsDisabled() bool {
	switch os.Getenv("BLOOM_SNAPSHOTS") {
	case "0", "false", "FALSE":
		return true
	}
	return false
}
