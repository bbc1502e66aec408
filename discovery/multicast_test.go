package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/delix-net/delix/balancer"
	"github.com/delix-net/delix/directory"
	"github.com/delix-net/delix/router"
	"github.com/delix-net/delix/testutil"
)

func TestBeaconRoundTrip(t *testing.T) {
	for _, kind := range []byte{beaconAsk, beaconTell} {
		beacon, err := packBeacon(kind, "192.168.0.1:4200")
		require.NoError(t, err)
		require.Len(t, beacon, beaconSize)

		gotKind, addr, err := unpackBeacon(beacon)
		require.NoError(t, err)
		require.Equal(t, kind, gotKind)
		require.Equal(t, "192.168.0.1:4200", addr)
	}
}

func TestPackBeaconRejectsBadAddresses(t *testing.T) {
	for _, addr := range []string{
		"",
		"no-port",
		"[::1]:4200",
		"host.example:4200",
		"10.0.0.1:0",
	} {
		_, err := packBeacon(beaconAsk, addr)
		require.ErrorIs(t, err, errBadBeacon, "address %q", addr)
	}
}

func TestUnpackBeaconRejectsMalformedInput(t *testing.T) {
	valid, err := packBeacon(beaconTell, "10.0.0.1:4200")
	require.NoError(t, err)

	_, _, err = unpackBeacon(valid[:beaconSize-1])
	require.ErrorIs(t, err, errBadBeacon)

	badKind := append([]byte(nil), valid...)
	badKind[0] = 7
	_, _, err = unpackBeacon(badKind)
	require.ErrorIs(t, err, errBadBeacon)

	zeroAddr := append([]byte(nil), valid...)
	zeroAddr[1], zeroAddr[2], zeroAddr[3], zeroAddr[4] = 0, 0, 0, 0
	_, _, err = unpackBeacon(zeroAddr)
	require.ErrorIs(t, err, errBadBeacon)

	zeroPort := append([]byte(nil), valid...)
	zeroPort[5], zeroPort[6] = 0, 0
	_, _, err = unpackBeacon(zeroPort)
	require.ErrorIs(t, err, errBadBeacon)
}

func TestNewMulticastRejectsBadConfig(t *testing.T) {
	_, err := NewMulticast(MulticastConfig{GroupAddress: "not-an-address"}, "127.0.0.1:4200", nil, nil)
	require.Error(t, err)

	// The advertised address must fit a beacon, so IPv6 is out.
	_, err = NewMulticast(MulticastConfig{GroupAddress: "224.0.0.119:53544"}, "[::1]:4200", nil, nil)
	require.ErrorIs(t, err, errBadBeacon)
}

func startMulticast(t *testing.T, group, self string) <-chan string {
	t.Helper()

	peers := make(chan string, 16)
	m, err := NewMulticast(MulticastConfig{
		GroupAddress: group,
		AskInterval:  50 * time.Millisecond,
	}, self, func(addr string) {
		select {
		case peers <- addr:
		default:
		}
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return peers
}

func requirePeer(t *testing.T, peers <-chan string, want string) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case addr := <-peers:
			if addr == want {
				return
			}
		case <-deadline:
			t.Fatalf("peer %s never discovered", want)
		}
	}
}

func TestMulticastPeersFindEachOther(t *testing.T) {
	const group = "224.0.0.119:53542"

	a := startMulticast(t, group, "127.0.0.1:3001")
	b := startMulticast(t, group, "127.0.0.1:3002")

	requirePeer(t, a, "127.0.0.1:3002")
	requirePeer(t, b, "127.0.0.1:3001")
}

func TestMulticastBootstrapsOverlay(t *testing.T) {
	const group = "224.0.0.119:53543"

	newNode := func() *testNode {
		cipher := testutil.NewCipher(t)
		dir := directory.New()
		rt := router.New(dir, balancer.NewDynamicRoundRobin(), time.Second, nil)

		disc := New(Config{
			BindAddress: "127.0.0.1:0",
			Multicast: MulticastConfig{
				GroupAddress: group,
				AskInterval:  50 * time.Millisecond,
			},
			BackoffInitial: 10 * time.Millisecond,
			BackoffMax:     50 * time.Millisecond,
			RequestTimeout: 2 * time.Second,
		}, cipher, dir, rt, nil)
		require.NoError(t, disc.Start(context.Background()))
		t.Cleanup(func() { disc.Close() })

		return &testNode{discovery: disc, directory: dir, router: rt}
	}

	a := newNode()
	require.NoError(t, a.router.Register("orders", echoHandler))

	// No seeds anywhere; b only shares the multicast group.
	b := newNode()
	b.waitForService(t, "orders")
}
