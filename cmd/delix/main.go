// Command delix runs one overlay node.
//
// A node joins the overlay through its seed peers, announces its local
// services and routes requests by service name. The optional HTTP relay
// bridges plain HTTP clients and backends onto the overlay.
//
// # Configuration File
//
// Create a TOML file with node settings:
//
//	[node]
//	bind_address = "0.0.0.0:4200"
//	passphrase = "shared network secret"
//
//	[discovery]
//	seeds = ["node2.example.com:4200"]
//
//	[relay]
//	address = "127.0.0.1:8080"
//	admin_address = "127.0.0.1:8081"
//
//	[relay.services]
//	billing = "http://127.0.0.1:9001"
//
// Every key can also be set through DELIX_-prefixed environment variables,
// e.g. DELIX_NODE_BIND_ADDRESS.
//
// # Usage
//
//	go run ./cmd/delix --config=delix.toml
//	go run ./cmd/delix --bind=:4200 --passphrase=secret --seeds=node2:4200
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/delix-net/delix/config"
	"github.com/delix-net/delix/node"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file")
		bindAddr   = flag.String("bind", "", "Overlay listen address")
		publicAddr = flag.String("public", "", "Advertised address, when behind NAT")
		key        = flag.String("key", "", "Shared network key (hex)")
		passphrase = flag.String("passphrase", "", "Passphrase to derive the network key from")
		seeds      = flag.String("seeds", "", "Comma-separated seed addresses")
		relayAddr  = flag.String("relay", "", "HTTP relay listen address")
		adminAddr  = flag.String("admin", "", "Admin API listen address")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	if *key != "" {
		os.Setenv("DELIX_NODE_KEY", *key)
	}
	if *passphrase != "" {
		os.Setenv("DELIX_NODE_PASSPHRASE", *passphrase)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file
	if *bindAddr != "" {
		cfg.Node.BindAddress = *bindAddr
	}
	if *publicAddr != "" {
		cfg.Node.PublicAddress = *publicAddr
	}
	if *seeds != "" {
		cfg.Discovery.Seeds = strings.Split(*seeds, ",")
	}
	if *relayAddr != "" {
		cfg.Relay.Address = *relayAddr
	}
	if *adminAddr != "" {
		cfg.Relay.AdminAddress = *adminAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := buildLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	n, err := node.New(cfg, logger)
	if err != nil {
		logger.Fatal("building node failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		logger.Fatal("starting node failed", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if err := n.Close(); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
