package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "delix.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
[node]
passphrase = "correct horse battery staple"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:4200", cfg.Node.BindAddress)
	require.Equal(t, 32, cfg.Node.KeySize)
	require.Equal(t, 10*time.Second, cfg.Node.RequestTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.Discovery.BackoffInitial)
	require.Equal(t, 30*time.Second, cfg.Discovery.BackoffMax)
	require.Equal(t, 2.0, cfg.Discovery.BackoffFactor)
	require.Equal(t, 5, cfg.Discovery.MaxAttempts)
	require.Equal(t, "dynamic-round-robin", cfg.Balancer.Policy)
	require.Equal(t, "X-Delix-Service", cfg.Relay.Header)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[node]
bind_address = "0.0.0.0:4200"
public_address = "node1.example.com:4200"
key = "000102030405060708090a0b0c0d0e0f"
key_size = 16
request_timeout = "3s"

[discovery]
seeds = ["node2.example.com:4200", "node3.example.com:4200"]
backoff_initial = "250ms"
backoff_max = "10s"
backoff_factor = 1.5
max_attempts = 8

[balancer]
policy = "round-robin"

[relay]
address = "127.0.0.1:8080"
admin_address = "127.0.0.1:8081"
header = "X-Service"

[relay.services]
billing = "http://127.0.0.1:9001"
search = "http://127.0.0.1:9002"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:4200", cfg.Node.BindAddress)
	require.Equal(t, "node1.example.com:4200", cfg.Node.PublicAddress)
	require.Equal(t, 3*time.Second, cfg.Node.RequestTimeout)
	require.Equal(t, []string{"node2.example.com:4200", "node3.example.com:4200"}, cfg.Discovery.Seeds)
	require.Equal(t, 250*time.Millisecond, cfg.Discovery.BackoffInitial)
	require.Equal(t, 1.5, cfg.Discovery.BackoffFactor)
	require.Equal(t, 8, cfg.Discovery.MaxAttempts)
	require.Equal(t, "round-robin", cfg.Balancer.Policy)
	require.Equal(t, "X-Service", cfg.Relay.Header)
	require.Equal(t, map[string]string{
		"billing": "http://127.0.0.1:9001",
		"search":  "http://127.0.0.1:9002",
	}, cfg.Relay.Services)
	require.Equal(t, "debug", cfg.Log.Level)

	key, err := cfg.CipherKey()
	require.NoError(t, err)
	require.Len(t, key, 16)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
[node]
passphrase = "secret"
`)

	t.Setenv("DELIX_NODE_BIND_ADDRESS", "10.0.0.9:9999")
	t.Setenv("DELIX_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.9:9999", cfg.Node.BindAddress)
	require.Equal(t, "warn", cfg.Log.Level)
}

func TestKeyMaterialFromEnvironment(t *testing.T) {
	path := writeConfig(t, `
[node]
bind_address = "127.0.0.1:4200"
`)

	t.Setenv("DELIX_NODE_PASSPHRASE", "from the environment")

	cfg, err := Load(path)
	require.NoError(t, err)

	key, err := cfg.CipherKey()
	require.NoError(t, err)
	require.Len(t, key, 32)
}

func TestKeyAndPassphraseAreExclusive(t *testing.T) {
	path := writeConfig(t, `
[node]
key = "000102030405060708090a0b0c0d0e0f"
passphrase = "also set"
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestMissingKeyMaterialRejected(t *testing.T) {
	path := writeConfig(t, `
[node]
bind_address = "127.0.0.1:4200"
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "required")
}

func TestInvalidKeySizeRejected(t *testing.T) {
	path := writeConfig(t, `
[node]
passphrase = "secret"
key_size = 20
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "key_size")
}

func TestMulticastDiscoveryConfig(t *testing.T) {
	path := writeConfig(t, `
[node]
passphrase = "secret"

[discovery]
type = "multicast"
multicast_address = "224.0.0.119:5342"
multicast_interface = "eth0"
multicast_interval = "2s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "multicast", cfg.Discovery.Type)
	require.Equal(t, "224.0.0.119:5342", cfg.Discovery.MulticastAddress)
	require.Equal(t, "eth0", cfg.Discovery.MulticastInterface)
	require.Equal(t, 2*time.Second, cfg.Discovery.MulticastInterval)
}

func TestMulticastWithoutAddressRejected(t *testing.T) {
	path := writeConfig(t, `
[node]
passphrase = "secret"

[discovery]
type = "multicast"
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "multicast_address")
}

func TestUnknownDiscoveryTypeRejected(t *testing.T) {
	path := writeConfig(t, `
[node]
passphrase = "secret"

[discovery]
type = "gossip"
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "discovery.type")
}

func TestDerivedKeyHasConfiguredSize(t *testing.T) {
	path := writeConfig(t, `
[node]
passphrase = "secret"
key_size = 24
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	key, err := cfg.CipherKey()
	require.NoError(t, err)
	require.Len(t, key, 24)
}
