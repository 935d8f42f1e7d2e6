package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default location of the YAML config file.
const ConfigPath = "config.yaml"

// ConfigPathEnv overrides ConfigPath when set.
const ConfigPathEnv = "POCKETBOOK_CONFIG"

const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	StorageBackend string `yaml:"storageBackend"`
	BooksDir       string `yaml:"booksDir"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	HMACKey          string `yaml:"hmacKey"`
	HMACKeyFile      string `yaml:"hmacKeyFile"`
	HMACKeyID        string `yaml:"hmacKeyID"`
	HMACPreviousKeys string `yaml:"hmacPreviousKeys"`
	BootstrapKey     bool   `yaml:"bootstrapKey"`
	SessionTTL       string `yaml:"sessionTTL"`

	MaxUploadBytes   int64  `yaml:"maxUploadBytes"`
	MaxUploadFiles   int    `yaml:"maxUploadFiles"`
	CoverCacheTTL    string `yaml:"coverCacheTTL"`
	CoverConcurrency int    `yaml:"coverConcurrency"`

	LoginRateLimitPerMinute    int `yaml:"loginRateLimitPerMinute"`
	PasswordRateLimitPerMinute int `yaml:"passwordRateLimitPerMinute"`

	Demo              bool     `yaml:"demo"`
	SeedAdminUsername string   `yaml:"seedAdminUsername"`
	SeedAdminPassword string   `yaml:"seedAdminPassword"`
	OpenLibraryURL    string   `yaml:"openLibraryURL"`
	TrustedProxies    []string `yaml:"trustedProxies"`
	CORSOrigins       []string `yaml:"corsOrigins"`
	SecureCookies     bool     `yaml:"secureCookies"`

	// WebDir holds the reader front end; empty serves the API only.
	WebDir string `yaml:"webDir"`
}

// Load reads config from path (defaults to config.yaml).
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
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// PathFromEnv returns the config path, honoring POCKETBOOK_CONFIG.
func PathFromEnv() string {
	if v := strings.TrimSpace(os.Getenv(ConfigPathEnv)); v != "" {
		return v
	}
	return ConfigPath
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
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
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("POCKETBOOK_STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("POCKETBOOK_BOOKS_DIR"); v != "" {
		cfg.BooksDir = v
	}
	if v := os.Getenv("POCKETBOOK_HMAC_KEY"); v != "" {
		cfg.HMACKey = v
	}
	if v := os.Getenv("POCKETBOOK_HMAC_KEY_FILE"); v != "" {
		cfg.HMACKeyFile = v
	}
	if v := os.Getenv("POCKETBOOK_HMAC_KEY_ID"); v != "" {
		cfg.HMACKeyID = v
	}
	if v := os.Getenv("POCKETBOOK_HMAC_PREVIOUS_KEYS"); v != "" {
		cfg.HMACPreviousKeys = v
	}
	if v := os.Getenv("POCKETBOOK_BOOTSTRAP_KEY"); v != "" {
		cfg.BootstrapKey = parseBool(v)
	}
	if v := os.Getenv("POCKETBOOK_DEMO"); v != "" {
		cfg.Demo = parseBool(v)
	}
	if v := os.Getenv("POCKETBOOK_SECURE_COOKIES"); v != "" {
		cfg.SecureCookies = parseBool(v)
	}
	if v := os.Getenv("POCKETBOOK_SEED_ADMIN_PASSWORD"); v != "" {
		cfg.SeedAdminPassword = v
	}
	if v := os.Getenv("POCKETBOOK_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("POCKETBOOK_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("POCKETBOOK_WEB_DIR"); v != "" {
		cfg.WebDir = v
	}
	if v := os.Getenv("POCKETBOOK_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = StorageLocal
	}
	if cfg.StorageBackend == StorageLocal && cfg.BooksDir == "" {
		cfg.BooksDir = "data"
	}
	if cfg.BootstrapKey && cfg.HMACKeyFile == "" {
		cfg.HMACKeyFile = "hmac.key"
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "168h"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	if cfg.MaxUploadFiles == 0 {
		cfg.MaxUploadFiles = 5
	}
	if cfg.CoverCacheTTL == "" {
		cfg.CoverCacheTTL = "24h"
	}
	if cfg.CoverConcurrency == 0 {
		cfg.CoverConcurrency = 4
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
	if cfg.PasswordRateLimitPerMinute == 0 {
		cfg.PasswordRateLimitPerMinute = 5
	}
	if cfg.SeedAdminPassword != "" && cfg.SeedAdminUsername == "" {
		cfg.SeedAdminUsername = "admin"
	}
	if cfg.OpenLibraryURL == "" {
		cfg.OpenLibraryURL = "https://openlibrary.org"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.StorageBackend {
	case StorageLocal:
		if cfg.BooksDir == "" {
			return errors.New("config: booksDir is required for local storage (set in config.yaml)")
		}
	case StorageMinio:
		if cfg.MinioEndpoint == "" {
			return errors.New("config: minioEndpoint is required (set in config.yaml)")
		}
		if cfg.MinioAccessKey == "" {
			return errors.New("config: minioAccessKey is required (set in config.yaml)")
		}
		if cfg.MinioSecretKey == "" {
			return errors.New("config: minioSecretKey is required (set in config.yaml)")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required (set in config.yaml)")
		}
	default:
		return fmt.Errorf("config: storageBackend must be %q or %q, got %q", StorageLocal, StorageMinio, cfg.StorageBackend)
	}
	if cfg.HMACKey == "" && !cfg.BootstrapKey {
		return errors.New("config: hmacKey is required (set in config.yaml or POCKETBOOK_HMAC_KEY, or enable bootstrapKey)")
	}
	ttl, err := ParseDuration(cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("config: invalid sessionTTL: %w", err)
	}
	if ttl <= 0 || ttl > 7*24*time.Hour {
		return errors.New("config: sessionTTL must be positive and at most 168h")
	}
	if _, err := ParseDuration(cfg.CoverCacheTTL); err != nil {
		return fmt.Errorf("config: invalid coverCacheTTL: %w", err)
	}
	if cfg.MaxUploadBytes < 0 || cfg.MaxUploadFiles < 0 || cfg.CoverConcurrency < 0 {
		return errors.New("config: upload and cover limits must not be negative")
	}
	if cfg.SeedAdminPassword != "" && len(cfg.SeedAdminPassword) < 6 {
		return errors.New("config: seedAdminPassword must be at least 6 characters")
	}
	return nil
}

// ParseDuration parses an optional duration string; "" means zero.
func ParseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	return err == nil && b
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
