package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"talon/internal/twapi"
)

// Config is the application's configuration model: scrape accounts, their
// assignment to supervisor processes, the redis and store endpoints, and the
// control-plane boundary.
type Config struct {
	Accounts     map[string]twapi.Account `yaml:"accounts"`
	Processes    []ProcessConfig          `yaml:"processes"`
	Redis        RedisConfig              `yaml:"redis"`
	Storage      StorageConfig            `yaml:"storage"`
	ControlPlane ControlPlaneConfig       `yaml:"controlPlane"`
	MetricsAddr  string                   `yaml:"metricsAddr"`
}

// ProcessConfig assigns a fixed set of account keys to one supervisor
// process. The assignment does not change at runtime.
type ProcessConfig struct {
	Name        string   `yaml:"name"`
	AccountKeys []string `yaml:"accountKeys"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
	// WorkStream is the inbound producer stream; per-process streams are
	// derived as "<WorkStream>:<process name>".
	WorkStream string `yaml:"workStream"`
	Group      string `yaml:"group"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

type ControlPlaneConfig struct {
	// MergeURL receives (winning, losing) profile pairs after commit.
	MergeURL string `yaml:"mergeURL"`
}

// Default returns a sensible default configuration for a single-process,
// single-account deployment.
func Default() Config {
	return Config{
		Accounts: map[string]twapi.Account{
			"primary": {},
		},
		Processes: []ProcessConfig{
			{Name: "proc0", AccountKeys: []string{"primary"}},
		},
		Redis: RedisConfig{
			Addr:       "127.0.0.1:6379",
			DB:         0,
			WorkStream: "talon:work",
			Group:      "talon",
		},
		Storage:     StorageConfig{DBPath: "./talon.db"},
		MetricsAddr: ":9090",
	}
}

// ResolveEnv fills in credential fields from environment variables if unset.
// Only the single-account fallback vars are supported; multi-account
// deployments put credentials in the config file.
func (c *Config) ResolveEnv() {
	if a, ok := c.Accounts["primary"]; ok {
		if a.BearerToken == "" {
			a.BearerToken = os.Getenv("X_BEARER_TOKEN")
		}
		if a.ConsumerKey == "" {
			a.ConsumerKey = os.Getenv("X_CONSUMER_KEY")
		}
		if a.ConsumerSecret == "" {
			a.ConsumerSecret = os.Getenv("X_CONSUMER_SECRET")
		}
		c.Accounts["primary"] = a
	}
}

// Validate checks the account-to-process assignment is complete and covers
// every configured account exactly once.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return errors.New("no accounts configured")
	}
	if len(c.Processes) == 0 {
		return errors.New("no processes configured")
	}
	assigned := make(map[string]string)
	for _, p := range c.Processes {
		for _, key := range p.AccountKeys {
			if _, ok := c.Accounts[key]; !ok {
				return fmt.Errorf("process %s references unknown account %s", p.Name, key)
			}
			if prev, dup := assigned[key]; dup {
				return fmt.Errorf("account %s assigned to both %s and %s", key, prev, p.Name)
			}
			assigned[key] = p.Name
		}
	}
	for key := range c.Accounts {
		if _, ok := assigned[key]; !ok {
			return fmt.Errorf("account %s not assigned to any process", key)
		}
	}
	return nil
}

// AccountProcess maps every account key to its owning process name.
func (c *Config) AccountProcess() map[string]string {
	out := make(map[string]string)
	for _, p := range c.Processes {
		for _, key := range p.AccountKeys {
			out[key] = p.Name
		}
	}
	return out
}

// ProcessStream derives the per-process stream name.
func (c *Config) ProcessStream(proc string) string {
	return c.Redis.WorkStream + ":" + proc
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
