package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/alexjbarnes/apikit/internal/keystore"
	"github.com/alexjbarnes/apikit/internal/logging"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envPrefix is prepended to every variable name below.
const envPrefix = "APIKIT_"

// Auth modes.
const (
	AuthNone              = "none"
	AuthRefresh           = "refresh"
	AuthClientCredentials = "client_credentials"
)

// Config holds all environment-based configuration for apikit.
type Config struct {
	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// Keystore location and passphrase. An empty passphrase stores tokens
	// unencrypted.
	StorePath       string `env:"STORE_PATH"`
	StorePassphrase string `env:"STORE_PASSPHRASE"`

	// Account names the token set inside the keystore.
	Account string `env:"ACCOUNT" envDefault:"default"`

	// AuthMode selects how bearer tokens are obtained: none, refresh
	// (stored refresh token exchanged at TOKEN_URL) or client_credentials.
	AuthMode     string   `env:"AUTH_MODE" envDefault:"refresh"`
	TokenURL     string   `env:"TOKEN_URL"`
	AuthURL      string   `env:"AUTH_URL"` // used by `apikit login`
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES" envSeparator:","`

	// RetryUnauthorized resends a request once after a 401.
	RetryUnauthorized bool `env:"RETRY_UNAUTHORIZED" envDefault:"false"`

	// EndpointsFile is a YAML file of named endpoints.
	EndpointsFile string `env:"ENDPOINTS_FILE"`

	Timeout       time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxConcurrent int           `env:"MAX_CONCURRENT" envDefault:"8"`

	// ChaosProbability is the percentage of requests to fail on purpose.
	ChaosProbability int `env:"CHAOS_PROBABILITY" envDefault:"0"`

	// ConnectivityProbe is a host:port dialled to detect being offline.
	// Empty disables the check.
	ConnectivityProbe string `env:"CONNECTIVITY_PROBE"`

	// LogBodies adds request and response bodies to request logs.
	LogBodies bool `env:"LOG_BODIES" envDefault:"false"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
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
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StorePath == "" {
		path, err := keystore.DefaultPath()
		if err != nil {
			return nil, err
		}

		cfg.StorePath = path
	}

	absPath, err := filepath.Abs(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("resolving store path to absolute path: %w", err)
	}

	cfg.StorePath = absPath

	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("APIKIT_LOG_LEVEL: %w", err)
	}

	if c.Account == "" {
		return fmt.Errorf("APIKIT_ACCOUNT must not be empty")
	}

	switch c.AuthMode {
	case AuthNone:
	case AuthRefresh:
		if err := c.requireTokenEndpoint(); err != nil {
			return err
		}
	case AuthClientCredentials:
		if err := c.requireTokenEndpoint(); err != nil {
			return err
		}

		if c.ClientSecret == "" {
			return fmt.Errorf("APIKIT_CLIENT_SECRET is required for client_credentials auth")
		}
	default:
		return fmt.Errorf("APIKIT_AUTH_MODE must be one of none, refresh, client_credentials; got %q", c.AuthMode)
	}

	if c.AuthURL != "" && !absoluteHTTPURL(c.AuthURL) {
		return fmt.Errorf("APIKIT_AUTH_URL must be an absolute http(s) URL")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("APIKIT_TIMEOUT must be positive")
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("APIKIT_MAX_CONCURRENT must be at least 1")
	}

	if c.ChaosProbability < 0 || c.ChaosProbability > 100 {
		return fmt.Errorf("APIKIT_CHAOS_PROBABILITY must be between 0 and 100")
	}

	return nil
}

func (c *Config) requireTokenEndpoint() error {
	if c.TokenURL == "" {
		return fmt.Errorf("APIKIT_TOKEN_URL is required for %s auth", c.AuthMode)
	}

	if !absoluteHTTPURL(c.TokenURL) {
		return fmt.Errorf("APIKIT_TOKEN_URL must be an absolute http(s) URL")
	}

	if c.ClientID == "" {
		return fmt.Errorf("APIKIT_CLIENT_ID is required for %s auth", c.AuthMode)
	}

	return nil
}

func absoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
