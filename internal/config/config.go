// Package config loads relay-board settings from a JSON or YAML file with
// environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/relay-board/internal/gpio"
	"github.com/sweeney/relay-board/internal/logging"
	"github.com/sweeney/relay-board/internal/relay"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "/data/relay/config.json"

// GPIO backends. The periph backend drives lines through sysfs, which
// cannot refuse a line another process holds and never unexports on release.
const (
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
)

// Config is the full process configuration.
type Config struct {
	AuthToken       string `json:"auth_token" yaml:"auth_token" env:"RELAY_AUTH_TOKEN"`
	AuthTokenBcrypt string `json:"auth_token_bcrypt" yaml:"auth_token_bcrypt" env:"RELAY_AUTH_TOKEN_BCRYPT"`
	BindAddress     string `json:"bind_address" yaml:"bind_address" env:"RELAY_BIND_ADDRESS"`
	LogLevel        string `json:"log_level" yaml:"log_level" env:"RELAY_LOG_LEVEL"`
	LogFormat       string `json:"log_format" yaml:"log_format" env:"RELAY_LOG_FORMAT"`

	GPIO GPIO `json:"gpio" yaml:"gpio"`
	MQTT MQTT `json:"mqtt" yaml:"mqtt"`
	MCP  MCP  `json:"mcp" yaml:"mcp"`
}

// GPIO selects the line backend and the relay wiring.
type GPIO struct {
	Backend  string        `json:"backend" yaml:"backend" env:"RELAY_GPIO_BACKEND"`
	Chip     string        `json:"chip" yaml:"chip" env:"RELAY_GPIO_CHIP"`
	Relays   []RelayConfig `json:"relays" yaml:"relays"`
	Rollback bool          `json:"rollback_on_init_failure" yaml:"rollback_on_init_failure" env:"RELAY_GPIO_ROLLBACK"`
}

// RelayConfig maps one relay ID to a GPIO line number. Line is the global
// sysfs number. For the cdev backend, Chip and Offset place the line on a
// character device; without Chip the line is an offset on gpio.chip.
type RelayConfig struct {
	ID     int    `json:"id" yaml:"id"`
	Line   int    `json:"line" yaml:"line"`
	Chip   string `json:"chip,omitempty" yaml:"chip,omitempty"`
	Offset int    `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// MQTT configures the optional state publisher. An empty Broker disables it.
type MQTT struct {
	Broker      string `json:"broker" yaml:"broker" env:"RELAY_MQTT_BROKER"`
	ClientID    string `json:"client_id" yaml:"client_id" env:"RELAY_MQTT_CLIENT_ID"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix" env:"RELAY_MQTT_TOPIC_PREFIX"`
}

// MCP configures the MCP HTTP transport.
type MCP struct {
	Endpoint string `json:"endpoint" yaml:"endpoint" env:"RELAY_MCP_ENDPOINT"`
}

// Default returns a Config with every optional field filled in.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: logging.FormatText,
		GPIO: GPIO{
			Backend: BackendCdev,
			Chip:    "gpiochip0",
			Relays:  defaultRelays(),
		},
		MQTT: MQTT{
			ClientID:    "relay-board",
			TopicPrefix: "relay-board",
		},
		MCP: MCP{Endpoint: "/mcp"},
	}
}

// Path returns CONFIG_PATH, or DefaultPath when it is unset.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv builds a Config from defaults and environment overrides only.
func LoadEnv() (*Config, error) {
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data over the defaults, then applies environment overrides
// and validates.
func Parse(data []byte, asYAML bool) (*Config, error) {
	cfg := Default()
	// Decoding into the default slice would merge file entries with the
	// default wiring.
	cfg.GPIO.Relays = nil
	var err error
	if asYAML {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, err
	}
	if cfg.GPIO.Relays == nil {
		cfg.GPIO.Relays = defaultRelays()
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// applyEnv overwrites fields whose environment variable is set.
func applyEnv(cfg *Config) error {
	err := envdecode.Decode(cfg)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// Validate checks settings needed by every mode.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	switch c.GPIO.Backend {
	case BackendPeriph, BackendCdev:
	default:
		return fmt.Errorf("unknown gpio backend %q", c.GPIO.Backend)
	}
	if err := c.Layout().Validate(); err != nil {
		return fmt.Errorf("gpio.relays: %w", err)
	}
	if c.GPIO.Backend == BackendCdev {
		return c.validateCdev()
	}
	return nil
}

func (c *Config) validateCdev() error {
	seen := make(map[gpio.Address]int, len(c.GPIO.Relays))
	for _, r := range c.GPIO.Relays {
		if r.Chip == "" && c.GPIO.Chip == "" {
			return fmt.Errorf("relay %d: gpio.chip is required for the cdev backend", r.ID)
		}
		if r.Offset < 0 {
			return fmt.Errorf("relay %d: offset %d must not be negative", r.ID, r.Offset)
		}
		addr := c.address(r)
		if other, ok := seen[addr]; ok {
			return fmt.Errorf("relay %d: %s offset %d already used by relay %d", r.ID, addr.Chip, addr.Offset, other)
		}
		seen[addr] = r.ID
	}
	return nil
}

func (c *Config) address(r RelayConfig) gpio.Address {
	if r.Chip == "" {
		return gpio.Address{Chip: c.GPIO.Chip, Offset: r.Line}
	}
	return gpio.Address{Chip: r.Chip, Offset: r.Offset}
}

// CdevAddresses maps each relay line to its character device and offset.
func (c *Config) CdevAddresses() map[int]gpio.Address {
	out := make(map[int]gpio.Address, len(c.GPIO.Relays))
	for _, r := range c.GPIO.Relays {
		out[r.Line] = c.address(r)
	}
	return out
}

// ValidateHTTP checks the extra settings an HTTP front end needs.
func (c *Config) ValidateHTTP() error {
	if c.AuthToken == "" && c.AuthTokenBcrypt == "" {
		return errors.New("auth_token is required")
	}
	if c.BindAddress == "" {
		return errors.New("bind_address is required")
	}
	return nil
}

// Layout converts the configured relays for the relay package.
func (c *Config) Layout() relay.Layout {
	l := make(relay.Layout, len(c.GPIO.Relays))
	for i, r := range c.GPIO.Relays {
		l[i] = relay.Relay{ID: r.ID, Line: r.Line}
	}
	return l
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}

// defaultRelays is relay.DefaultLayout placed on the Rock Pi E GPIO banks.
func defaultRelays() []RelayConfig {
	return []RelayConfig{
		{ID: 1, Line: 60, Chip: "gpiochip1", Offset: 28},
		{ID: 2, Line: 27, Chip: "gpiochip0", Offset: 27},
		{ID: 3, Line: 85, Chip: "gpiochip2", Offset: 21},
		{ID: 4, Line: 86, Chip: "gpiochip2", Offset: 22},
	}
}
