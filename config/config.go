// Package config loads node configuration from a file and the environment.
//
// Any format viper understands works (TOML, YAML, JSON); every key can be
// overridden through DELIX_-prefixed environment variables, with dots in key
// paths replaced by underscores (node.bind_address becomes
// DELIX_NODE_BIND_ADDRESS).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/delix-net/delix/crypto"
)

// Config is the full node configuration.
type Config struct {
	Node      Node      `mapstructure:"node"`
	Discovery Discovery `mapstructure:"discovery"`
	Balancer  Balancer  `mapstructure:"balancer"`
	Relay     Relay     `mapstructure:"relay"`
	Log       Log       `mapstructure:"log"`
}

// Node holds identity and transport settings.
type Node struct {
	BindAddress   string `mapstructure:"bind_address"`
	PublicAddress string `mapstructure:"public_address"`

	// Key is the shared network key, hex encoded. Alternatively Passphrase
	// derives a key of KeySize bytes.
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
	KeySize    int    `mapstructure:"key_size"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Discovery holds membership settings. Type selects the bootstrap variant:
// "constant" dials the configured seeds, "multicast" finds peers on the
// local network via a UDP multicast group.
type Discovery struct {
	Type  string   `mapstructure:"type"`
	Seeds []string `mapstructure:"seeds"`

	MulticastAddress   string        `mapstructure:"multicast_address"`
	MulticastInterface string        `mapstructure:"multicast_interface"`
	MulticastInterval  time.Duration `mapstructure:"multicast_interval"`

	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

// Balancer selects the provider-balancing policy.
type Balancer struct {
	Policy string `mapstructure:"policy"`
}

// Relay configures the HTTP ingress, the admin API and static backends.
type Relay struct {
	Address      string `mapstructure:"address"`
	AdminAddress string `mapstructure:"admin_address"`
	Header       string `mapstructure:"header"`

	// Services maps overlay service names to upstream HTTP base URLs.
	Services map[string]string `mapstructure:"services"`
}

// Log configures logging.
type Log struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given file, falling back to defaults and
// DELIX_ environment variables. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DELIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default for AutomaticEnv to pick it up during
	// Unmarshal; value-less keys default to empty.
	v.SetDefault("node.bind_address", "127.0.0.1:4200")
	v.SetDefault("node.public_address", "")
	v.SetDefault("node.key", "")
	v.SetDefault("node.passphrase", "")
	v.SetDefault("node.key_size", 32)
	v.SetDefault("node.request_timeout", 10*time.Second)
	v.SetDefault("discovery.type", "constant")
	v.SetDefault("discovery.seeds", []string{})
	v.SetDefault("discovery.multicast_address", "")
	v.SetDefault("discovery.multicast_interface", "")
	v.SetDefault("discovery.multicast_interval", 5*time.Second)
	v.SetDefault("discovery.backoff_initial", 500*time.Millisecond)
	v.SetDefault("discovery.backoff_max", 30*time.Second)
	v.SetDefault("discovery.backoff_factor", 2.0)
	v.SetDefault("discovery.max_attempts", 5)
	v.SetDefault("balancer.policy", "dynamic-round-robin")
	v.SetDefault("relay.address", "")
	v.SetDefault("relay.admin_address", "")
	v.SetDefault("relay.header", "X-Delix-Service")
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Node.Key == "" && c.Node.Passphrase == "" {
		return errors.New("either node.key or node.passphrase is required")
	}
	if c.Node.Key != "" && c.Node.Passphrase != "" {
		return errors.New("node.key and node.passphrase are mutually exclusive")
	}
	switch c.Node.KeySize {
	case 16, 24, 32:
	default:
		return fmt.Errorf("node.key_size must be 16, 24 or 32, got %d", c.Node.KeySize)
	}
	switch c.Discovery.Type {
	case "constant":
	case "multicast":
		if c.Discovery.MulticastAddress == "" {
			return errors.New("discovery.multicast_address is required with discovery.type multicast")
		}
	default:
		return fmt.Errorf("discovery.type must be constant or multicast, got %q", c.Discovery.Type)
	}
	return nil
}

// CipherKey resolves the configured network key: the hex key when set,
// otherwise a key derived from the passphrase.
func (c *Config) CipherKey() ([]byte, error) {
	if c.Node.Key != "" {
		return crypto.ParseKey(c.Node.Key)
	}
	return crypto.DeriveKey(c.Node.Passphrase, c.Node.KeySize)
}
