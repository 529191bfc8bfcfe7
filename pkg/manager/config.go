package manager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"relay-api/pkg/arbiter"
	"relay-api/pkg/confkit"
	"relay-api/pkg/executor"
)

// Config wires the whole execution engine: the intake gate, the shared
// pipeline settings and the account fleet.
type Config struct {
	Arbiter  arbiter.Config  `yaml:"arbiter"`
	Pipeline executor.Config `yaml:"pipeline"`
	Accounts []AccountConfig `yaml:"accounts"`

	JournalDir string `yaml:"journal_dir"`

	BufferPollRaw      string        `yaml:"buffer_poll_interval"`
	BufferPollInterval time.Duration `yaml:"-"`
}

// AccountConfig binds one account to an exchange provider by name. Risk
// overrides per account live under pipeline.overrides keyed by account id.
type AccountConfig struct {
	ID       string `yaml:"id"`
	Exchange string `yaml:"exchange"`
	Disabled bool   `yaml:"disabled"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open engine config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads engine configuration from the default project location and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/engine.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read engine config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal engine config: %w", err)
	}
	if err := cfg.Normalise(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalise applies defaults across all sections and validates the result.
func (c *Config) Normalise() error {
	c.Arbiter.ApplyDefaults()
	if err := c.Arbiter.ParseDurations(); err != nil {
		return err
	}
	if err := c.Arbiter.Validate(); err != nil {
		return err
	}

	if err := c.Pipeline.Normalise(); err != nil {
		return err
	}

	if strings.TrimSpace(c.JournalDir) == "" {
		c.JournalDir = "journal"
	}
	if strings.TrimSpace(c.BufferPollRaw) == "" {
		c.BufferPollRaw = "1s"
	}
	interval, err := time.ParseDuration(c.BufferPollRaw)
	if err != nil {
		return fmt.Errorf("engine config: invalid buffer_poll_interval %q: %w", c.BufferPollRaw, err)
	}
	if interval <= 0 {
		return fmt.Errorf("engine config: buffer_poll_interval must be positive, got %s", interval)
	}
	c.BufferPollInterval = interval

	for i := range c.Accounts {
		c.Accounts[i].ID = strings.TrimSpace(os.ExpandEnv(c.Accounts[i].ID))
		c.Accounts[i].Exchange = strings.TrimSpace(os.ExpandEnv(c.Accounts[i].Exchange))
	}
	return c.Validate()
}

// Validate ensures the account fleet is usable.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return errors.New("engine config: accounts cannot be empty")
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	enabled := 0
	for _, account := range c.Accounts {
		if account.ID == "" {
			return errors.New("engine config: account id cannot be empty")
		}
		if account.Exchange == "" {
			return fmt.Errorf("engine config: account %s must reference an exchange provider", account.ID)
		}
		if _, ok := seen[account.ID]; ok {
			return fmt.Errorf("engine config: duplicate account id %q", account.ID)
		}
		seen[account.ID] = struct{}{}
		if !account.Disabled {
			enabled++
		}
	}
	if enabled == 0 {
		return errors.New("engine config: all accounts are disabled")
	}
	for id := range c.Pipeline.Overrides {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("engine config: pipeline override %q matches no account", id)
		}
	}
	return nil
}
