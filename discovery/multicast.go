package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Multicast beacons are fixed 16-byte UDP datagrams: one kind byte (ask or
// tell), four IPv4 octets, a big-endian port, and padding. A node asks the
// group for members by multicasting its own overlay address; every member
// hearing the ask answers with a unicast tell carrying its address. IPv4
// only.
const (
	beaconSize = 16
	beaconAsk  = 0
	beaconTell = 1
)

var errBadBeacon = errors.New("malformed discovery beacon")

// MulticastConfig tunes local-network peer discovery.
type MulticastConfig struct {
	// GroupAddress is the multicast group to join, e.g. "224.0.0.1:5342".
	GroupAddress string

	// Interface optionally names the network interface to join the group
	// on; empty lets the system choose.
	Interface string

	// AskInterval is the cadence of membership asks. Defaults to 5s.
	AskInterval time.Duration
}

// Multicast discovers peers on the local network by asking a multicast group
// and reporting every answer through the onPeer callback.
type Multicast struct {
	conn   *net.UDPConn
	group  *net.UDPAddr
	self   string
	onPeer func(string)
	logger *zap.Logger

	interval time.Duration

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewMulticast joins the group and starts asking for members. self is the
// overlay address announced in beacons; onPeer is invoked for every distinct
// answer, including repeats.
func NewMulticast(cfg MulticastConfig, self string, onPeer func(string), logger *zap.Logger) (*Multicast, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AskInterval <= 0 {
		cfg.AskInterval = 5 * time.Second
	}

	group, err := net.ResolveUDPAddr("udp4", cfg.GroupAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast group %s: %w", cfg.GroupAddress, err)
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("multicast interface %s: %w", cfg.Interface, err)
		}
	}

	conn, err := net.ListenMulticastUDP("udp4", iface, group)
	if err != nil {
		return nil, fmt.Errorf("join multicast group %s: %w", cfg.GroupAddress, err)
	}

	if _, err := packBeacon(beaconAsk, self); err != nil {
		conn.Close()
		return nil, fmt.Errorf("advertised address %q: %w", self, err)
	}

	m := &Multicast{
		conn:     conn,
		group:    group,
		self:     self,
		onPeer:   onPeer,
		logger:   logger,
		interval: cfg.AskInterval,
		done:     make(chan struct{}),
	}

	m.wg.Add(2)
	go m.readLoop()
	go m.askLoop()

	m.logger.Info("multicast discovery joined",
		zap.String("group", group.String()),
		zap.String("address", self))
	return m, nil
}

// Close leaves the group and stops both loops. Idempotent.
func (m *Multicast) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.conn.Close()
		m.wg.Wait()
	})
	return nil
}

// askLoop multicasts an ask immediately and then on every tick, so nodes
// joining the network late still converge.
func (m *Multicast) askLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.ask()
	for {
		select {
		case <-ticker.C:
			m.ask()
		case <-m.done:
			return
		}
	}
}

func (m *Multicast) ask() {
	beacon, err := packBeacon(beaconAsk, m.self)
	if err != nil {
		return
	}
	if _, err := m.conn.WriteToUDP(beacon, m.group); err != nil {
		select {
		case <-m.done:
		default:
			m.logger.Debug("multicast ask failed", zap.Error(err))
		}
	}
}

// readLoop answers asks from other nodes with a unicast tell and reports
// every tell as a peer candidate. Own beacons loop back and are dropped.
func (m *Multicast) readLoop() {
	defer m.wg.Done()

	buf := make([]byte, beaconSize)
	for {
		n, sender, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.done:
			default:
				m.logger.Debug("multicast read failed", zap.Error(err))
			}
			return
		}

		kind, addr, err := unpackBeacon(buf[:n])
		if err != nil || addr == m.self {
			continue
		}

		switch kind {
		case beaconAsk:
			tell, err := packBeacon(beaconTell, m.self)
			if err != nil {
				continue
			}
			if _, err := m.conn.WriteToUDP(tell, sender); err != nil {
				m.logger.Debug("multicast tell failed",
					zap.String("to", sender.String()),
					zap.Error(err))
			}
			// The asker is a peer too.
			m.onPeer(addr)
		case beaconTell:
			m.onPeer(addr)
		}
	}
}

func packBeacon(kind byte, addr string) ([]byte, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errBadBeacon
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return nil, errBadBeacon
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return nil, errBadBeacon
	}

	beacon := make([]byte, beaconSize)
	beacon[0] = kind
	copy(beacon[1:5], ip)
	beacon[5] = byte(port >> 8)
	beacon[6] = byte(port)
	return beacon, nil
}

func unpackBeacon(beacon []byte) (byte, string, error) {
	if len(beacon) != beaconSize {
		return 0, "", errBadBeacon
	}
	kind := beacon[0]
	if kind != beaconAsk && kind != beaconTell {
		return 0, "", errBadBeacon
	}

	ip := net.IPv4(beacon[1], beacon[2], beacon[3], beacon[4])
	port := uint16(beacon[5])<<8 | uint16(beacon[6])
	if ip.IsUnspecified() || port == 0 {
		return 0, "", errBadBeacon
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	return kind, addr, nil
}
