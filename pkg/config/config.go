package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adammck/rover/pkg/api"
)

// Config defines the behavior of the system. Most of it is only read by the
// registry daemon, but the strategy defaults are shared by every host, so
// should be identical between the different components in a system.
type Config struct {

	// Address for the registry gRPC server to listen on.
	Addr string `toml:"addr"`

	// Address for other components to reach the registry. Defaults to Addr.
	PubAddr string `toml:"pub_addr"`

	// Address for the debug HTTP server (metrics, records). Empty disables it.
	DebugAddr string `toml:"debug_addr"`

	// How long should the registry hold a repeated lookup (same requester,
	// same unit, same version) before answering it again?
	Cooldown Duration `toml:"cooldown"`

	// Should the registry persist records to Consul, so they survive restart?
	Persist bool `toml:"persist"`

	// Prefix for Consul KV keys, when Persist is true.
	ConsulPrefix string `toml:"consul_prefix"`

	// Defaults for units spawned without an explicit strategy.
	Strategy StrategyConfig `toml:"strategy"`
}

type StrategyConfig struct {
	TTL               Duration `toml:"ttl"`
	MaxHandoffs       int      `toml:"max_handoffs"`
	MaxResidency      Duration `toml:"max_residency"`
	UpdatingForwarder bool     `toml:"updating_forwarder"`
}

// Duration wraps time.Duration so it can be written as "1500ms" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultCooldown is how long the registry waits before answering the same
// question twice.
const DefaultCooldown = 1000 * time.Millisecond

// Default returns the config used when no file is given.
func Default() Config {
	return Config{
		Addr:         "localhost:5100",
		Cooldown:     Duration{DefaultCooldown},
		ConsulPrefix: "rover",
		Strategy: StrategyConfig{
			TTL:               Duration{api.DefaultStrategy.TTL},
			MaxHandoffs:       api.DefaultStrategy.MaxHandoffs,
			MaxResidency:      Duration{api.DefaultStrategy.MaxResidency},
			UpdatingForwarder: api.DefaultStrategy.UpdatingForwarder,
		},
	}
}

// Load reads the TOML file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("missing addr")
	}
	if c.Cooldown.Duration < 0 {
		return fmt.Errorf("negative cooldown: %s", c.Cooldown)
	}
	if c.Persist && strings.TrimSpace(c.ConsulPrefix) == "" {
		return fmt.Errorf("consul_prefix required when persist is set")
	}
	return c.DefaultStrategy().Validate()
}

// PublicAddr returns the address other components should use to reach the
// registry.
func (c Config) PublicAddr() string {
	if c.PubAddr == "" {
		return c.Addr
	}
	return c.PubAddr
}

func (c Config) DefaultStrategy() api.Strategy {
	return api.Strategy{
		TTL:               c.Strategy.TTL.Duration,
		MaxHandoffs:       c.Strategy.MaxHandoffs,
		MaxResidency:      c.Strategy.MaxResidency.Duration,
		UpdatingForwarder: c.Strategy.UpdatingForwarder,
	}
}
