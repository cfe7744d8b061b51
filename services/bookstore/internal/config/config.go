package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, overridable with CONFIG_PATH.
var ConfigPath = envOr("CONFIG_PATH", "config.yaml")

const minJWTSecretBytes = 64

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	DatabaseURL    string `yaml:"databaseURL"`
	DBMaxOpenConns int    `yaml:"dbMaxOpenConns"`
	DBMaxIdleConns int    `yaml:"dbMaxIdleConns"`

	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	CartSummaryTTL string `yaml:"cartSummaryTTL"`

	JWTSecret        string `yaml:"jwtSecret"`
	JWTIssuer        string `yaml:"jwtIssuer"`
	JWTTTL           string `yaml:"jwtTTL"`
	JWTRememberMeTTL string `yaml:"jwtRememberMeTTL"`
	JWTLeeway        string `yaml:"jwtLeeway"`

	GoogleBooksBaseURL string `yaml:"googleBooksBaseURL"`
	GoogleBooksTimeout string `yaml:"googleBooksTimeout"`
	// FixedPrice replaces random pricing of externally fetched books when set.
	FixedPrice string `yaml:"fixedPrice"`

	AdminEmails                []string `yaml:"adminEmails"`
	AllowedOrigins             []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	ShutdownTimeout            string   `yaml:"shutdownTimeout"`
}

// Load reads config from path (defaults to ConfigPath) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_TTL"); v != "" {
		cfg.JWTTTL = v
	}
	if v := os.Getenv("JWT_REMEMBER_ME_TTL"); v != "" {
		cfg.JWTRememberMeTTL = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("GOOGLE_BOOKS_BASE_URL"); v != "" {
		cfg.GoogleBooksBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("BOOKSTORE_FIXED_PRICE"); v != "" {
		cfg.FixedPrice = strings.TrimSpace(v)
	}
	if v := os.Getenv("BOOKSTORE_ADMIN_EMAILS"); v != "" {
		cfg.AdminEmails = splitCSV(v)
	}
	if v := os.Getenv("BOOKSTORE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("BOOKSTORE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("BOOKSTORE_REGISTER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.RegisterRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("BOOKSTORE_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return fmt.Errorf("config: jwtSecret must be at least %d bytes (set in config.yaml or JWT_SECRET)", minJWTSecretBytes)
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.DBMaxOpenConns < 0 || cfg.DBMaxIdleConns < 0 {
		return errors.New("config: database pool sizes must be >= 0")
	}
	durations := map[string]string{
		"cartSummaryTTL":     cfg.CartSummaryTTL,
		"jwtTTL":             cfg.JWTTTL,
		"jwtRememberMeTTL":   cfg.JWTRememberMeTTL,
		"jwtLeeway":          cfg.JWTLeeway,
		"googleBooksTimeout": cfg.GoogleBooksTimeout,
		"shutdownTimeout":    cfg.ShutdownTimeout,
	}
	for name, raw := range durations {
		if _, err := ParseDuration(name, raw, 0); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, _, err := ParseFixedPrice(cfg.FixedPrice); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseDuration parses an optional duration string, returning def when empty.
func ParseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}

// ParseFixedPrice parses the optional fixed price. ok is false when unset.
func ParseFixedPrice(raw string) (price decimal.Decimal, ok bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false, nil
	}
	price, err = decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid fixedPrice: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Zero, false, errors.New("invalid fixedPrice: must be > 0")
	}
	return price, true, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
