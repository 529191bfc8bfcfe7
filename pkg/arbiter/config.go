package arbiter

import (
	"fmt"
	"time"
)

// Buffer policies for a conflicting signal arriving inside the cooldown of an
// opposite-direction signal.
const (
	// PolicyLastWins keeps only the newest buffered signal per instrument.
	PolicyLastWins = "last_wins"
	// PolicyFirstWins keeps the first buffered signal and rejects later ones.
	PolicyFirstWins = "first_wins"
)

const defaultCooldown = 30 * time.Second

// Config controls the intake gate.
type Config struct {
	CooldownRaw  string        `yaml:"cooldown"`
	Cooldown     time.Duration `yaml:"-"`
	BufferPolicy string        `yaml:"buffer_policy"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.CooldownRaw == "" && c.Cooldown == 0 {
		c.Cooldown = defaultCooldown
	}
	if c.BufferPolicy == "" {
		c.BufferPolicy = PolicyLastWins
	}
}

// ParseDurations resolves raw duration strings.
func (c *Config) ParseDurations() error {
	if c.CooldownRaw == "" {
		return nil
	}
	d, err := time.ParseDuration(c.CooldownRaw)
	if err != nil {
		return fmt.Errorf("arbiter config: invalid cooldown %q: %w", c.CooldownRaw, err)
	}
	c.Cooldown = d
	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Cooldown <= 0 {
		return fmt.Errorf("arbiter config: cooldown must be positive, got %s", c.Cooldown)
	}
	if c.BufferPolicy != PolicyLastWins && c.BufferPolicy != PolicyFirstWins {
		return fmt.Errorf("arbiter config: unknown buffer_policy %q", c.BufferPolicy)
	}
	return nil
}
