package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Config holds easykey configuration loaded from ~/.easykey/config.yaml.
// Keys absent from the file keep their defaults.
type Config struct {
	// Backend selects the keystore: auto, keychain, keyring or memory.
	Backend         string `yaml:"backend"`
	SecretsService  string `yaml:"secrets_service"`
	MetadataService string `yaml:"metadata_service"`

	// KeyringBackends restricts the keyring backends tried, in order
	// (secret-service, kwallet, keyctl, pass, wincred, file).
	KeyringBackends []string `yaml:"keyring_backends"`
	KeyringDir      string   `yaml:"keyring_dir"`

	// AuditLog is the JSONL audit trail. Empty disables it.
	AuditLog      string `yaml:"audit_log"`
	DefaultReason string `yaml:"default_reason"`

	APISocket    string  `yaml:"api_socket"`
	APIRateLimit float64 `yaml:"api_rate_limit"` // prompts per second
	APIBurst     int     `yaml:"api_burst"`
}

var backends = []string{"auto", "keychain", "keyring", "memory"}

// Home returns the easykey home directory: ~/.easykey.
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".easykey")
}

// DefaultPath returns the default config file path: ~/.easykey/config.yaml.
func DefaultPath() string {
	home := Home()
	if home == "" {
		return ""
	}
	return filepath.Join(home, "config.yaml")
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	home := Home()
	join := func(name string) string {
		if home == "" {
			return ""
		}
		return filepath.Join(home, name)
	}
	return &Config{
		Backend:         "auto",
		SecretsService:  "com.easykey.secrets",
		MetadataService: "com.easykey.metadata",
		KeyringDir:      join("keyring"),
		AuditLog:        join("audit.log"),
		APISocket:       join("api.sock"),
		APIRateLimit:    1,
		APIBurst:        3,
	}
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns the defaults and no error. An empty or all-comment file
// also returns the defaults with no error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if !slices.Contains(backends, c.Backend) {
		return fmt.Errorf("backend %q: must be one of %v", c.Backend, backends)
	}
	if c.SecretsService == "" || c.MetadataService == "" {
		return errors.New("secrets_service and metadata_service must be set")
	}
	if c.SecretsService == c.MetadataService {
		return fmt.Errorf("secrets_service and metadata_service must differ (both %q)", c.SecretsService)
	}
	if c.APIRateLimit <= 0 {
		return fmt.Errorf("api_rate_limit must be positive, got %v", c.APIRateLimit)
	}
	if c.APIBurst < 1 {
		return fmt.Errorf("api_burst must be at least 1, got %d", c.APIBurst)
	}
	return nil
}
