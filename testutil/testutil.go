package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/delix-net/delix/config"
	"github.com/delix-net/delix/crypto"
)

// KeyHex is the fixed 32-byte network key used across tests, hex encoded.
const KeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// Key returns the fixed test network key.
func Key(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.ParseKey(KeyHex)
	require.NoError(t, err)
	return key
}

// NewCipher builds a cipher from the fixed test key.
func NewCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	cipher, err := crypto.New(Key(t))
	require.NoError(t, err)
	return cipher
}

// ConfigOption customizes a generated node configuration.
type ConfigOption func(*config.Config)

// WithSeeds sets the seed peers.
func WithSeeds(seeds ...string) ConfigOption {
	return func(cfg *config.Config) { cfg.Discovery.Seeds = seeds }
}

// WithRelay enables the HTTP ingress on the given address.
func WithRelay(address string) ConfigOption {
	return func(cfg *config.Config) { cfg.Relay.Address = address }
}

// WithAdmin enables the admin API on the given address.
func WithAdmin(address string) ConfigOption {
	return func(cfg *config.Config) { cfg.Relay.AdminAddress = address }
}

// WithBackends maps service names to upstream HTTP base URLs.
func WithBackends(services map[string]string) ConfigOption {
	return func(cfg *config.Config) { cfg.Relay.Services = services }
}

// WithBalancerPolicy selects the balancing policy.
func WithBalancerPolicy(policy string) ConfigOption {
	return func(cfg *config.Config) { cfg.Balancer.Policy = policy }
}

// WithMaxAttempts caps reconnect attempts before peer eviction.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(cfg *config.Config) { cfg.Discovery.MaxAttempts = attempts }
}

// NewConfig generates a node configuration suited to tests: ephemeral ports,
// the fixed network key and short reconnect backoff.
func NewConfig(options ...ConfigOption) *config.Config {
	cfg := &config.Config{
		Node: config.Node{
			BindAddress:    "127.0.0.1:0",
			Key:            KeyHex,
			KeySize:        32,
			RequestTimeout: 2 * time.Second,
		},
		Discovery: config.Discovery{
			BackoffInitial: 10 * time.Millisecond,
			BackoffMax:     50 * time.Millisecond,
			BackoffFactor:  2,
			MaxAttempts:    5,
		},
	}
	for _, option := range options {
		option(cfg)
	}
	return cfg
}
