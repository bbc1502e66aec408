package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/delix-net/delix/crypto"
	"github.com/delix-net/delix/directory"
	"github.com/delix-net/delix/internal/telemetry"
	"github.com/delix-net/delix/protocol"
	"github.com/delix-net/delix/router"
	"github.com/delix-net/delix/transport"
)

// Reserved control-plane service names. They are served directly by
// discovery and never appear in the directory or in announcements.
const (
	handshakeService = "delix.handshake"
	servicesService  = "delix.services"
)

// reservedService reports whether a name belongs to the control plane. Peer
// announcements carrying reserved names are dropped, whatever the peer
// claims.
func reservedService(name string) bool {
	return name == handshakeService || name == servicesService
}

// Config tunes discovery behavior. Zero values select the documented
// defaults.
type Config struct {
	// BindAddress is the TCP address to listen on for peer connections.
	BindAddress string

	// PublicAddress, when set, is advertised to peers instead of the bound
	// address. Required when the node sits behind address translation.
	PublicAddress string

	// Seeds are the addresses contacted at startup to join the overlay.
	Seeds []string

	// Multicast, when its GroupAddress is set, additionally discovers peers
	// on the local network without any configured seed.
	Multicast MulticastConfig

	// BackoffInitial, BackoffMax and BackoffFactor shape the reconnect
	// schedule after a peer is lost. MaxAttempts caps consecutive failed
	// reconnects before the peer is evicted until re-announced.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64
	MaxAttempts    int

	// RequestTimeout bounds handshake and announcement requests.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	return c
}

// PeerInfo describes one known peer for inspection endpoints.
type PeerInfo struct {
	Addr  string `json:"addr"`
	State string `json:"state"`
}

type peer struct {
	addr string
	conn *transport.Connection
}

// Discovery owns the node's view of overlay membership.
type Discovery struct {
	cfg       Config
	cipher    *crypto.Cipher
	directory *directory.Directory
	router    *router.Router
	logger    *zap.Logger

	listener  *transport.Listener
	multicast *Multicast
	self      string

	mu    sync.Mutex
	peers map[string]*peer

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Discovery instance. Start must be called before it does
// anything.
func New(cfg Config, cipher *crypto.Cipher, dir *directory.Directory, rt *router.Router, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{
		cfg:       cfg.withDefaults(),
		cipher:    cipher,
		directory: dir,
		router:    rt,
		logger:    logger,
		peers:     make(map[string]*peer),
	}
}

// Start binds the listener and begins contacting seed peers. The passed
// context bounds the whole discovery lifetime.
func (d *Discovery) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	options := transport.Options{
		Handler:        d.handleRequest,
		HandlerTimeout: d.cfg.RequestTimeout,
		Logger:         d.logger,
	}
	listener, err := transport.Listen(d.cfg.BindAddress, d.cipher, options, d.handleAccepted)
	if err != nil {
		return fmt.Errorf("bind %s: %w", d.cfg.BindAddress, err)
	}
	d.listener = listener

	d.self = d.cfg.PublicAddress
	if d.self == "" {
		d.self = listener.Addr()
	}

	d.router.OnLocalChange(d.announceServices)

	if d.cfg.Multicast.GroupAddress != "" {
		multicast, err := NewMulticast(d.cfg.Multicast, d.self, d.ensurePeer, d.logger)
		if err != nil {
			listener.Close()
			return err
		}
		d.multicast = multicast
	}

	for _, seed := range d.cfg.Seeds {
		d.ensurePeer(seed)
	}

	d.logger.Info("discovery started",
		zap.String("address", d.self),
		zap.Strings("seeds", d.cfg.Seeds))
	return nil
}

// Addr returns the node's advertised address. Valid after Start.
func (d *Discovery) Addr() string {
	return d.self
}

// Peers lists the currently known peers.
func (d *Discovery) Peers() []PeerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	infos := make([]PeerInfo, 0, len(d.peers))
	for addr, p := range d.peers {
		state := "reconnecting"
		if p.conn != nil {
			state = p.conn.State().String()
		}
		infos = append(infos, PeerInfo{Addr: addr, State: state})
	}
	return infos
}

// Close tears discovery down: the listener stops, every peer connection is
// closed (failing its in-flight requests fast) and all maintainers exit.
func (d *Discovery) Close() error {
	d.closeOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		if d.multicast != nil {
			d.multicast.Close()
		}
		if d.listener != nil {
			d.listener.Close()
		}

		d.mu.Lock()
		conns := make([]*transport.Connection, 0, len(d.peers))
		for _, p := range d.peers {
			if p.conn != nil {
				conns = append(conns, p.conn)
			}
		}
		d.mu.Unlock()

		for _, conn := range conns {
			conn.Close()
		}
		d.wg.Wait()
	})
	return nil
}

// handleAccepted is called for every inbound connection. Nothing happens
// until the peer introduces itself via the handshake service.
func (d *Discovery) handleAccepted(conn *transport.Connection) {
	d.logger.Debug("accepted connection", zap.String("remote", conn.Addr()))
}

// handleRequest is the transport-level handler for all connections, dialed
// and accepted alike. Control services are served here; everything else goes
// to the router's inbound path.
func (d *Discovery) handleRequest(ctx context.Context, conn *transport.Connection, service string, payload []byte) ([]byte, error) {
	switch service {
	case handshakeService:
		return d.handleHandshake(conn, payload)
	case servicesService:
		return d.handleServiceUpdate(conn, payload)
	}
	return d.router.ServeInbound(ctx, service, payload)
}

func (d *Discovery) handleHandshake(conn *transport.Connection, payload []byte) ([]byte, error) {
	hello, err := protocol.Unmarshal[protocol.Hello](payload)
	if err != nil {
		return nil, protocol.Errorf(protocol.InvalidData, "decode hello: %v", err)
	}

	d.adopt(conn, hello)

	reply, err := protocol.Marshal(d.hello())
	if err != nil {
		return nil, protocol.Errorf(protocol.Other, "encode hello: %v", err)
	}
	return reply, nil
}

func (d *Discovery) handleServiceUpdate(conn *transport.Connection, payload []byte) ([]byte, error) {
	update, err := protocol.Unmarshal[protocol.ServiceUpdate](payload)
	if err != nil {
		return nil, protocol.Errorf(protocol.InvalidData, "decode service update: %v", err)
	}

	d.directory.RemoveProvider(update.Address)
	for _, service := range update.Services {
		if reservedService(service) {
			continue
		}
		d.directory.Register(service, conn)
	}

	d.logger.Debug("peer services updated",
		zap.String("peer", update.Address),
		zap.Strings("services", update.Services))
	return nil, nil
}

// hello builds this node's introduction.
func (d *Discovery) hello() *protocol.Hello {
	d.mu.Lock()
	peers := make([]string, 0, len(d.peers))
	for addr, p := range d.peers {
		if p.conn != nil {
			peers = append(peers, addr)
		}
	}
	d.mu.Unlock()

	return &protocol.Hello{
		Address:       d.self,
		PublicAddress: d.cfg.PublicAddress,
		Services:      d.router.LocalServices(),
		Peers:         peers,
	}
}

// adopt integrates a handshaken connection: records the peer, feeds its
// services into the directory and chases any unknown peers it reported.
func (d *Discovery) adopt(conn *transport.Connection, hello *protocol.Hello) {
	addr := hello.AdvertisedAddress()
	if addr == "" || addr == d.self {
		conn.Close()
		return
	}

	conn.MarkOpen(addr)

	d.mu.Lock()
	p, known := d.peers[addr]
	if !known {
		p = &peer{addr: addr}
		d.peers[addr] = p
		d.startMaintainer(addr)
	}
	if p.conn != nil && p.conn != conn && isLive(p.conn) {
		// Simultaneous connect in both directions; keep the established one.
		d.mu.Unlock()
		d.logger.Debug("closing duplicate connection", zap.String("peer", addr))
		conn.Close()
		return
	}
	p.conn = conn
	d.updateGauges()
	d.mu.Unlock()

	d.directory.RemoveProvider(addr)
	for _, service := range hello.Services {
		if reservedService(service) {
			continue
		}
		d.directory.Register(service, conn)
	}

	for _, peerAddr := range hello.Peers {
		if peerAddr != d.self {
			d.ensurePeer(peerAddr)
		}
	}

	d.logger.Info("peer joined",
		zap.String("peer", addr),
		zap.Strings("services", hello.Services))
}

// ensurePeer makes sure a maintainer goroutine owns the address.
func (d *Discovery) ensurePeer(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if addr == d.self {
		return
	}
	if _, known := d.peers[addr]; known {
		return
	}
	d.peers[addr] = &peer{addr: addr}
	d.updateGauges()
	d.startMaintainer(addr)
}

// startMaintainer must be called with d.mu held.
func (d *Discovery) startMaintainer(addr string) {
	d.wg.Add(1)
	go d.maintain(addr)
}

// maintain is the single owner of one peer's connection lifecycle: it
// connects when there is no live connection, waits for loss, and backs off
// between attempts. After MaxAttempts consecutive failures the peer is
// evicted until re-announced.
func (d *Discovery) maintain(addr string) {
	defer d.wg.Done()

	attempts := 0
	backoff := d.cfg.BackoffInitial

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		conn := d.liveConn(addr)
		if conn == nil {
			dialed, hello, err := d.connect(addr)
			if err != nil {
				attempts++
				d.logger.Debug("connect failed",
					zap.String("peer", addr),
					zap.Int("attempt", attempts),
					zap.Error(err))
				if attempts >= d.cfg.MaxAttempts {
					if d.evict(addr) {
						return
					}
					// The peer connected to us while our dials were
					// failing; own that connection instead.
					attempts = 0
					backoff = d.cfg.BackoffInitial
					continue
				}
				select {
				case <-time.After(backoff):
				case <-d.ctx.Done():
					return
				}
				backoff = nextBackoff(backoff, d.cfg.BackoffFactor, d.cfg.BackoffMax)
				continue
			}

			d.adopt(dialed, hello)
			conn = d.liveConn(addr)
			if conn == nil {
				continue
			}
		}

		attempts = 0
		backoff = d.cfg.BackoffInitial

		select {
		case <-conn.Done():
			d.dropConn(addr, conn)
		case <-d.ctx.Done():
			return
		}
	}
}

func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		next = max
	}
	return next
}

// connect dials a peer and performs the membership handshake.
func (d *Discovery) connect(addr string) (*transport.Connection, *protocol.Hello, error) {
	options := transport.Options{
		Handler:        d.handleRequest,
		HandlerTimeout: d.cfg.RequestTimeout,
		Logger:         d.logger,
	}
	conn, err := transport.Dial(d.ctx, addr, d.cipher, options)
	if err != nil {
		return nil, nil, err
	}

	payload, err := protocol.Marshal(d.hello())
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.RequestTimeout)
	defer cancel()
	reply, err := conn.Request(ctx, handshakeService, payload)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}

	hello, err := protocol.Unmarshal[protocol.Hello](reply)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	return conn, hello, nil
}

func isLive(conn *transport.Connection) bool {
	state := conn.State()
	return state == transport.StateHandshaking || state == transport.StateOpen
}

// liveConn returns the peer's connection if it is still usable.
func (d *Discovery) liveConn(addr string) *transport.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.peers[addr]
	if p == nil || p.conn == nil || !isLive(p.conn) {
		return nil
	}
	return p.conn
}

// dropConn records the loss of a connection: the node is marked failed and
// removed from every provider set, atomically for directory readers.
func (d *Discovery) dropConn(addr string, conn *transport.Connection) {
	d.mu.Lock()
	p := d.peers[addr]
	if p == nil || p.conn != conn {
		d.mu.Unlock()
		return
	}
	p.conn = nil
	d.updateGauges()
	d.mu.Unlock()

	d.directory.RemoveProvider(addr)
	d.logger.Warn("peer connection lost", zap.String("peer", addr))
}

// evict forgets a peer after too many failed reconnects. It becomes
// eligible again when another peer re-announces it. Eviction is refused when
// the peer holds a live connection: an inbound handshake may have landed
// between the maintainer's failed dial and this call (the peer can reach us
// even though we cannot reach it), and its services must stay routable.
func (d *Discovery) evict(addr string) bool {
	d.mu.Lock()
	if p := d.peers[addr]; p != nil && p.conn != nil && isLive(p.conn) {
		d.mu.Unlock()
		return false
	}
	delete(d.peers, addr)
	d.updateGauges()
	d.mu.Unlock()

	d.directory.RemoveProvider(addr)
	d.logger.Info("peer evicted after repeated failures", zap.String("peer", addr))
	return true
}

// announceServices pushes the local service list to every connected peer.
func (d *Discovery) announceServices(services []string) {
	if d.ctx == nil {
		// Not started yet; peers will learn the services from the handshake.
		return
	}

	payload, err := protocol.Marshal(&protocol.ServiceUpdate{Address: d.self, Services: services})
	if err != nil {
		d.logger.Error("encode service update", zap.Error(err))
		return
	}

	d.mu.Lock()
	conns := make([]*transport.Connection, 0, len(d.peers))
	for _, p := range d.peers {
		if p.conn != nil {
			conns = append(conns, p.conn)
		}
	}
	d.mu.Unlock()

	for _, conn := range conns {
		conn := conn
		go func() {
			ctx, cancel := context.WithTimeout(d.ctx, d.cfg.RequestTimeout)
			defer cancel()
			if _, err := conn.Request(ctx, servicesService, payload); err != nil {
				d.logger.Debug("service announcement failed",
					zap.String("peer", conn.Addr()),
					zap.Error(err))
			}
		}()
	}
}

// updateGauges must be called with d.mu held.
func (d *Discovery) updateGauges() {
	telemetry.Peers.Set(float64(len(d.peers)))
	live := 0
	for _, p := range d.peers {
		if p.conn != nil {
			live++
		}
	}
	telemetry.Connections.Set(float64(live))
}
