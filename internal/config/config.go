package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// Defaults for a locally running opencode server.
const (
	DefaultBaseURL        = "http://127.0.0.1:4096"
	DefaultStartupTimeout = 30 * time.Second
)

// Config is everything the client core consumes: where the server is,
// how to authenticate, and whether and how long to auto-start it.
type Config struct {
	BaseURL  string `json:"baseUrl,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// AutoServe allows spawning a server when none is reachable.
	AutoServe *bool `json:"autoServe,omitempty"`
	// StartupTimeout is a duration string ("30s", "2m").
	StartupTimeout string `json:"startupTimeout,omitempty"`
	LogLevel       string `json:"logLevel,omitempty"`
}

// AutoServeEnabled reports the auto-serve setting; the default is on.
func (c *Config) AutoServeEnabled() bool {
	if c.AutoServe == nil {
		return true
	}
	return *c.AutoServe
}

// StartupTimeoutDuration parses the startup timeout, falling back to
// the default on absence or garbage.
func (c *Config) StartupTimeoutDuration() time.Duration {
	if c.StartupTimeout == "" {
		return DefaultStartupTimeout
	}
	d, err := time.ParseDuration(c.StartupTimeout)
	if err != nil || d <= 0 {
		return DefaultStartupTimeout
	}
	return d
}

// Load reads client configuration. Sources, lowest precedence first:
//
//  1. Global config (~/.config/opencode/client.json or .jsonc)
//  2. Project config (<directory>/.opencode/client.json or .jsonc)
//  3. A .env file in the project directory
//  4. OPENCODE_* environment variables
//
// Missing files are fine; Load only fails on unparseable ones.
func Load(directory string) (*Config, error) {
	cfg := &Config{BaseURL: DefaultBaseURL}

	globalDir := GetPaths().Config
	for _, name := range []string{"client.json", "client.jsonc"} {
		if err := loadFile(filepath.Join(globalDir, name), cfg); err != nil {
			return nil, err
		}
	}

	if directory != "" {
		projectDir := filepath.Join(directory, ".opencode")
		for _, name := range []string{"client.json", "client.jsonc"} {
			if err := loadFile(filepath.Join(projectDir, name), cfg); err != nil {
				return nil, err
			}
		}
		// Populates the environment for the overrides below.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadFile merges one config file into cfg. Absent files are skipped.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	// Strip JSONC comments; plain JSON passes through untouched.
	data = jsonc.ToJSON(data)

	var file Config
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	merge(cfg, &file)
	return nil
}

// merge overlays non-empty fields of src onto dst.
func merge(dst, src *Config) {
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.Username != "" {
		dst.Username = src.Username
	}
	if src.Password != "" {
		dst.Password = src.Password
	}
	if src.AutoServe != nil {
		dst.AutoServe = src.AutoServe
	}
	if src.StartupTimeout != "" {
		dst.StartupTimeout = src.StartupTimeout
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

// applyEnvOverrides applies OPENCODE_* variables, the highest
// precedence source.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENCODE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("OPENCODE_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("OPENCODE_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("OPENCODE_AUTO_SERVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoServe = &b
		}
	}
	if v := os.Getenv("OPENCODE_STARTUP_TIMEOUT"); v != "" {
		cfg.StartupTimeout = v
	}
	if v := os.Getenv("OPENCODE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
