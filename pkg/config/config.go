// Package config loads solconnect settings from a YAML file, .env files and
// SOLCONNECT_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sigweihq/solconnect/pkg/constants"
	"github.com/sigweihq/solconnect/pkg/environment"
	"github.com/sigweihq/solconnect/pkg/storage"
	"github.com/sigweihq/solconnect/pkg/utils"
)

const envPrefix = "SOLCONNECT_"

// Storage backends
const (
	StorageMemory  = "memory"
	StorageSQLite  = "sqlite"
	StorageKeyring = "keyring"
)

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Key     string `yaml:"key"`
	Service string `yaml:"service"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	// Endpoints are RPC endpoints; empty uses the official ones for Network
	Endpoints []string `yaml:"endpoints"`
	Network   string   `yaml:"network"`

	Storage StorageConfig `yaml:"storage"`

	AutoConnect bool   `yaml:"auto_connect"`
	Wallet      string `yaml:"wallet"`
	KeypairPath string `yaml:"keypair_path"`
	UserAgent   string `yaml:"user_agent"`

	DiscoveryURL    string `yaml:"discovery_url"`
	MobileWalletURL string `yaml:"mobile_wallet_url"`
	AuthURL         string `yaml:"auth_url"`

	Log LogConfig `yaml:"log"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Network: constants.NetworkMainnet,
		Storage: StorageConfig{
			Backend: StorageMemory,
			Key:     constants.DefaultWalletNameKey,
			Service: constants.DefaultKeyringService,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (optional) on top of the defaults, loads envFiles (missing
// files are skipped) and applies environment overrides
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"NETWORK":           &c.Network,
		"STORAGE_BACKEND":   &c.Storage.Backend,
		"STORAGE_PATH":      &c.Storage.Path,
		"STORAGE_KEY":       &c.Storage.Key,
		"KEYRING_SERVICE":   &c.Storage.Service,
		"WALLET":            &c.Wallet,
		"KEYPAIR":           &c.KeypairPath,
		"USER_AGENT":        &c.UserAgent,
		"DISCOVERY_URL":     &c.DiscoveryURL,
		"MOBILE_WALLET_URL": &c.MobileWalletURL,
		"AUTH_URL":          &c.AuthURL,
		"LOG_LEVEL":         &c.Log.Level,
		"LOG_FORMAT":        &c.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "ENDPOINTS"); ok {
		c.Endpoints = nil
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				c.Endpoints = append(c.Endpoints, e)
			}
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "AUTO_CONNECT"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sAUTO_CONNECT: %w", envPrefix, err)
		}
		c.AutoConnect = b
	}
	return nil
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	if _, ok := environment.ParseNetwork(c.Network); !ok {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	for _, e := range c.Endpoints {
		if err := utils.ValidateServiceURL(e); err != nil {
			return err
		}
	}
	switch c.Storage.Backend {
	case StorageMemory, StorageKeyring:
	case StorageSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	for _, u := range []string{c.DiscoveryURL, c.AuthURL} {
		if u == "" {
			continue
		}
		if err := utils.ValidateServiceURL(u); err != nil {
			return err
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// RPCEndpoints returns the configured endpoints or the official ones for the
// network
func (c *Config) RPCEndpoints() []string {
	if len(c.Endpoints) > 0 {
		return c.Endpoints
	}
	n, _ := environment.ParseNetwork(c.Network)
	return constants.OfficialRPCEndpoints[n.String()]
}

// OpenStore opens the configured persistent store. The returned close func is
// never nil.
func (c *Config) OpenStore() (storage.Store, func() error, error) {
	noop := func() error { return nil }
	switch c.Storage.Backend {
	case StorageSQLite:
		s, err := storage.OpenSQLiteStore(c.Storage.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case StorageKeyring:
		return storage.NewKeyringStore(c.Storage.Service), noop, nil
	default:
		return storage.NewMemoryStore(), noop, nil
	}
}

// NewLogger builds the slog logger described by Log
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
