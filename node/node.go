// Package node assembles a full overlay node from its parts: cipher,
// directory, balancer, router, discovery and the optional HTTP relay.
package node

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/delix-net/delix/balancer"
	"github.com/delix-net/delix/config"
	"github.com/delix-net/delix/crypto"
	"github.com/delix-net/delix/directory"
	"github.com/delix-net/delix/discovery"
	"github.com/delix-net/delix/relay"
	"github.com/delix-net/delix/router"
)

const shutdownTimeout = 5 * time.Second

// Node is one member of the overlay.
type Node struct {
	cfg    *config.Config
	logger *zap.Logger

	directory *directory.Directory
	router    *router.Router
	discovery *discovery.Discovery
	ingress   *relay.HTTPStatic
	admin     *relay.Admin
}

// New wires a node from its configuration. Nothing is bound until Start.
func New(cfg *config.Config, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := cfg.CipherKey()
	if err != nil {
		return nil, fmt.Errorf("resolve network key: %w", err)
	}
	cipher, err := crypto.New(key)
	if err != nil {
		return nil, fmt.Errorf("initialize cipher: %w", err)
	}

	strategy, err := balancer.New(cfg.Balancer.Policy)
	if err != nil {
		return nil, err
	}

	dir := directory.New()
	rt := router.New(dir, strategy, cfg.Node.RequestTimeout, logger)

	discoveryCfg := discovery.Config{
		BindAddress:    cfg.Node.BindAddress,
		PublicAddress:  cfg.Node.PublicAddress,
		Seeds:          cfg.Discovery.Seeds,
		BackoffInitial: cfg.Discovery.BackoffInitial,
		BackoffMax:     cfg.Discovery.BackoffMax,
		BackoffFactor:  cfg.Discovery.BackoffFactor,
		MaxAttempts:    cfg.Discovery.MaxAttempts,
		RequestTimeout: cfg.Node.RequestTimeout,
	}
	if cfg.Discovery.Type == "multicast" {
		discoveryCfg.Multicast = discovery.MulticastConfig{
			GroupAddress: cfg.Discovery.MulticastAddress,
			Interface:    cfg.Discovery.MulticastInterface,
			AskInterval:  cfg.Discovery.MulticastInterval,
		}
	}
	disc := discovery.New(discoveryCfg, cipher, dir, rt, logger)

	node := &Node{
		cfg:       cfg,
		logger:    logger,
		directory: dir,
		router:    rt,
		discovery: disc,
	}

	if cfg.Relay.Address != "" {
		node.ingress = relay.NewHTTPStatic(relay.Config{
			Address: cfg.Relay.Address,
			Header:  cfg.Relay.Header,
		}, rt, logger)
	}
	if cfg.Relay.AdminAddress != "" {
		node.admin = relay.NewAdmin(cfg.Relay.AdminAddress, disc, dir, rt, logger)
	}
	return node, nil
}

// Start brings the node up: backends are registered so the first handshake
// already announces them, then discovery joins the overlay and the relay
// servers bind.
func (n *Node) Start(ctx context.Context) error {
	for name, target := range n.cfg.Relay.Services {
		if err := n.router.Register(name, relay.Backend(target, n.cfg.Node.RequestTimeout)); err != nil {
			return fmt.Errorf("register backend %q: %w", name, err)
		}
	}

	if err := n.discovery.Start(ctx); err != nil {
		return err
	}
	if n.ingress != nil {
		if err := n.ingress.Start(); err != nil {
			n.discovery.Close()
			return err
		}
	}
	if n.admin != nil {
		if err := n.admin.Start(); err != nil {
			n.Close()
			return err
		}
	}

	n.logger.Info("node started", zap.String("address", n.discovery.Addr()))
	return nil
}

// Close shuts the node down: relay servers drain first, then the overlay
// side closes.
func (n *Node) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if n.ingress != nil {
		n.ingress.Close(ctx)
	}
	if n.admin != nil {
		n.admin.Close(ctx)
	}
	return n.discovery.Close()
}

// Addr returns the node's advertised overlay address. Valid after Start.
func (n *Node) Addr() string {
	return n.discovery.Addr()
}

// RelayAddr returns the bound ingress address, or "" without a relay.
func (n *Node) RelayAddr() string {
	if n.ingress == nil {
		return ""
	}
	return n.ingress.Addr()
}

// AdminAddr returns the bound admin address, or "" without an admin API.
func (n *Node) AdminAddr() string {
	if n.admin == nil {
		return ""
	}
	return n.admin.Addr()
}

// Register hosts a service on this node and announces it to the overlay.
func (n *Node) Register(service string, handler router.Handler) error {
	return n.router.Register(service, handler)
}

// Deregister stops hosting a service.
func (n *Node) Deregister(service string) {
	n.router.Deregister(service)
}

// Request routes one request to any provider of the named service, local or
// remote.
func (n *Node) Request(ctx context.Context, service string, payload []byte) ([]byte, error) {
	return n.router.Dispatch(ctx, service, payload)
}

// Services lists every routable service name this node knows of.
func (n *Node) Services() []string {
	return n.directory.Services()
}

// Peers lists the node's known peers.
func (n *Node) Peers() []discovery.PeerInfo {
	return n.discovery.Peers()
}
