package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultServer is the vendor host used when CLOUDPOODLL_SERVER is empty.
const DefaultServer = "cloud.poodll.com"

// Config holds all environment-based configuration for cloudpoodll-imagegen.
type Config struct {
	// Provider selection. -1 uses the Cloud Poodll vendor backend, any
	// other value is the id of an instance in PROVIDERS_FILE.
	APIProvider int `env:"CLOUDPOODLL_API_PROVIDER" envDefault:"-1"`

	// Vendor credentials. Required only when the vendor backend serves
	// requests, so they are not validated here.
	APIUser   string `env:"CLOUDPOODLL_API_USER"`
	APISecret string `env:"CLOUDPOODLL_API_SECRET"`

	// Vendor host, with or without scheme.
	Server string `env:"CLOUDPOODLL_SERVER" envDefault:"cloud.poodll.com"`

	AWSRegion string `env:"CLOUDPOODLL_AWS_REGION" envDefault:"useast1"`

	// Public URL of this site. Used for registration checks and draft URLs.
	SiteURL string `env:"SITE_URL" envDefault:"http://localhost:8095"`

	// Directory holding state.db and the content-addressed file store.
	DataDir string `env:"DATA_DIR"`

	// YAML file describing external provider instances. Optional.
	ProvidersFile string `env:"PROVIDERS_FILE"`

	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"60s"`

	// Requests per second against the vendor backend. 0 disables limiting.
	RateLimit int `env:"RATE_LIMIT" envDefault:"0"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// HTTP surface.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8095"`
	APIKeys    string `env:"API_KEYS"`

	// User that owns drafts created from the CLI.
	DefaultUser string `env:"DEFAULT_USER" envDefault:"admin"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. It holds the vendor API secret.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.APIUser = strings.TrimSpace(cfg.APIUser)
	cfg.APISecret = strings.TrimSpace(cfg.APISecret)
	cfg.AWSRegion = strings.ToLower(strings.TrimSpace(cfg.AWSRegion))

	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}

		cfg.DataDir = dir
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	absDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	cfg.DataDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if !ValidRegion(c.AWSRegion) {
		return fmt.Errorf("CLOUDPOODLL_AWS_REGION %q is not a known region", c.AWSRegion)
	}

	if c.APIProvider != models.DefaultProvider && c.ProvidersFile == "" {
		return fmt.Errorf("PROVIDERS_FILE is required when CLOUDPOODLL_API_PROVIDER selects an external provider")
	}

	if c.HTTPTimeout < 0 {
		return fmt.Errorf("HTTP_TIMEOUT must not be negative")
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("RATE_LIMIT must not be negative")
	}

	if c.DefaultUser == "" {
		return fmt.Errorf("DEFAULT_USER must not be empty")
	}

	return nil
}

// DefaultDataDir returns ~/.cloudpoodll-imagegen.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".cloudpoodll-imagegen"), nil
}

// StatePath returns the bbolt database path inside the data dir.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// FileDir returns the root of the content-addressed file store.
func (c *Config) FileDir() string {
	return filepath.Join(c.DataDir, "filedir")
}

// ServerURL returns the vendor base URL. A bare host gets https://.
func (c *Config) ServerURL() string {
	server := strings.TrimSpace(c.Server)
	if server == "" {
		server = DefaultServer
	}

	if !strings.HasPrefix(server, "https://") && !strings.HasPrefix(server, "http://") {
		server = "https://" + server
	}

	return strings.TrimRight(server, "/")
}

// Credential returns the vendor credential pair.
func (c *Config) Credential() models.Credential {
	return models.Credential{APIUser: c.APIUser, APISecret: c.APISecret}
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// APIKeyEntry holds a bcrypt hash of an API key and the user it
// authenticates as, parsed from API_KEYS.
type APIKeyEntry struct {
	Username string
	Hash     string
}

// ParseAPIKeys parses the API_KEYS string.
// Format: "user1:$2a$10$...,user2:$2a$10$..."
// Hashes are produced by the hash-key subcommand.
func (c *Config) ParseAPIKeys() ([]APIKeyEntry, error) {
	if c.APIKeys == "" {
		return nil, nil
	}

	seen := make(map[string]struct{})

	var entries []APIKeyEntry

	for _, pair := range strings.Split(c.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		username := pair[:idx]

		hash := pair[idx+1:]
		if username == "" || hash == "" {
			return nil, fmt.Errorf("empty user or hash in entry %d", len(entries)+1)
		}

		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("API key in entry %d must be a bcrypt hash", len(entries)+1)
		}

		if _, dup := seen[username]; dup {
			return nil, fmt.Errorf("duplicate user %q in API_KEYS", username)
		}

		seen[username] = struct{}{}
		entries = append(entries, APIKeyEntry{Username: username, Hash: hash})
	}

	return entries, nil
}
