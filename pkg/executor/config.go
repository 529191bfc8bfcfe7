package executor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"relay-api/pkg/confkit"
	"relay-api/pkg/conflict"
	"relay-api/pkg/sizing"
)

// Config controls runtime behaviour for the execution pipeline. Risk holds
// the fleet-wide defaults; Overrides adjusts them per account.
type Config struct {
	Risk      RiskParams                     `yaml:"risk"`
	Conflict  conflict.Config                `yaml:"conflict"`
	Contracts map[string]sizing.ContractSpec `yaml:"contracts"`
	Overrides map[string]Override            `yaml:"overrides"`

	CallTimeoutRaw string        `yaml:"call_timeout"`
	CallTimeout    time.Duration `yaml:"-"`
}

// RiskParams bundles the per-trade risk knobs.
type RiskParams struct {
	RiskFraction      float64 `yaml:"risk_fraction"`
	MaxExposure       float64 `yaml:"max_exposure"`
	Leverage          int     `yaml:"leverage"`
	ATRMultiplier     float64 `yaml:"atr_multiplier"`
	RiskReward        float64 `yaml:"risk_reward"`
	MarginUseFraction float64 `yaml:"margin_use_fraction"`
}

// Override adjusts risk parameters for one account.
type Override struct {
	RiskFraction      *float64 `yaml:"risk_fraction,omitempty"`
	MaxExposure       *float64 `yaml:"max_exposure,omitempty"`
	Leverage          *int     `yaml:"leverage,omitempty"`
	ATRMultiplier     *float64 `yaml:"atr_multiplier,omitempty"`
	RiskReward        *float64 `yaml:"risk_reward,omitempty"`
	MarginUseFraction *float64 `yaml:"margin_use_fraction,omitempty"`
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open executor config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read executor config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal executor config: %w", err)
	}
	if err := cfg.Normalise(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalise applies defaults, parses durations and validates. It is called by
// LoadConfigFromReader and by callers that embed this config in a larger
// document.
func (c *Config) Normalise() error {
	c.applyDefaults()
	if err := c.parseDurations(); err != nil {
		return err
	}
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Risk.RiskFraction == 0 {
		c.Risk.RiskFraction = 0.02
	}
	if c.Risk.MaxExposure == 0 {
		c.Risk.MaxExposure = 0.08
	}
	if c.Risk.Leverage == 0 {
		c.Risk.Leverage = 10
	}
	if c.Risk.ATRMultiplier == 0 {
		c.Risk.ATRMultiplier = 2.0
	}
	if c.Risk.RiskReward == 0 {
		c.Risk.RiskReward = 1.5
	}
	if c.Risk.MarginUseFraction == 0 {
		c.Risk.MarginUseFraction = 0.8
	}
	if strings.TrimSpace(c.CallTimeoutRaw) == "" {
		c.CallTimeoutRaw = "10s"
	}
	if len(c.Contracts) > 0 {
		normalized := make(map[string]sizing.ContractSpec, len(c.Contracts))
		for instrument, contract := range c.Contracts {
			normalized[strings.ToUpper(strings.TrimSpace(instrument))] = contract
		}
		c.Contracts = normalized
	}
	c.Conflict.ApplyDefaults()
}

func (c *Config) parseDurations() error {
	timeout, err := time.ParseDuration(c.CallTimeoutRaw)
	if err != nil {
		return fmt.Errorf("executor config: invalid call_timeout %q: %w", c.CallTimeoutRaw, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("executor config: call_timeout must be positive, got %s", timeout)
	}
	c.CallTimeout = timeout
	return nil
}

// Validate ensures configuration sanity.
func (c *Config) Validate() error {
	if err := c.Risk.validate("risk"); err != nil {
		return err
	}
	if err := c.Conflict.Validate(); err != nil {
		return err
	}
	if len(c.Contracts) == 0 {
		return errors.New("executor config: contracts cannot be empty")
	}
	for instrument, contract := range c.Contracts {
		if strings.TrimSpace(instrument) == "" {
			return errors.New("executor config: contracts cannot contain empty instrument keys")
		}
		if err := contract.Validate(); err != nil {
			return fmt.Errorf("executor config: contract %s: %w", instrument, err)
		}
	}
	for key, override := range c.Overrides {
		if strings.TrimSpace(key) == "" {
			return errors.New("executor config: overrides cannot contain empty keys")
		}
		merged := c.Risk
		merged.apply(override)
		if err := merged.validate(fmt.Sprintf("override %s", key)); err != nil {
			return err
		}
	}
	return nil
}

func (r RiskParams) validate(scope string) error {
	if r.RiskFraction <= 0 || r.RiskFraction > 1 {
		return fmt.Errorf("executor config: %s risk_fraction must be in (0, 1], got %v", scope, r.RiskFraction)
	}
	if r.MaxExposure <= 0 || r.MaxExposure > 1 {
		return fmt.Errorf("executor config: %s max_exposure must be in (0, 1], got %v", scope, r.MaxExposure)
	}
	if r.Leverage < 1 {
		return fmt.Errorf("executor config: %s leverage must be at least 1, got %d", scope, r.Leverage)
	}
	if r.ATRMultiplier <= 0 {
		return fmt.Errorf("executor config: %s atr_multiplier must be positive, got %v", scope, r.ATRMultiplier)
	}
	if r.RiskReward <= 0 {
		return fmt.Errorf("executor config: %s risk_reward must be positive, got %v", scope, r.RiskReward)
	}
	if r.MarginUseFraction <= 0 || r.MarginUseFraction > 1 {
		return fmt.Errorf("executor config: %s margin_use_fraction must be in (0, 1], got %v", scope, r.MarginUseFraction)
	}
	return nil
}

func (r *RiskParams) apply(o Override) {
	if o.RiskFraction != nil {
		r.RiskFraction = *o.RiskFraction
	}
	if o.MaxExposure != nil {
		r.MaxExposure = *o.MaxExposure
	}
	if o.Leverage != nil {
		r.Leverage = *o.Leverage
	}
	if o.ATRMultiplier != nil {
		r.ATRMultiplier = *o.ATRMultiplier
	}
	if o.RiskReward != nil {
		r.RiskReward = *o.RiskReward
	}
	if o.MarginUseFraction != nil {
		r.MarginUseFraction = *o.MarginUseFraction
	}
}

// RiskFor returns the effective risk parameters for an account.
func (c *Config) RiskFor(accountID string) RiskParams {
	risk := c.Risk
	if override, ok := c.Overrides[accountID]; ok {
		risk.apply(override)
	}
	return risk
}

// ContractFor looks up the instrument's contract constraints.
func (c *Config) ContractFor(instrument string) (sizing.ContractSpec, bool) {
	contract, ok := c.Contracts[strings.ToUpper(strings.TrimSpace(instrument))]
	return contract, ok
}
