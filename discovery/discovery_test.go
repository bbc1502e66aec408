package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/delix-net/delix/balancer"
	"github.com/delix-net/delix/directory"
	"github.com/delix-net/delix/protocol"
	"github.com/delix-net/delix/router"
	"github.com/delix-net/delix/testutil"
	"github.com/delix-net/delix/transport"
)

type testNode struct {
	discovery *Discovery
	directory *directory.Directory
	router    *router.Router
}

func startTestNode(t *testing.T, seeds ...string) *testNode {
	t.Helper()

	cipher := testutil.NewCipher(t)
	dir := directory.New()
	rt := router.New(dir, balancer.NewDynamicRoundRobin(), time.Second, nil)

	disc := New(Config{
		BindAddress:    "127.0.0.1:0",
		Seeds:          seeds,
		BackoffInitial: 10 * time.Millisecond,
		BackoffMax:     50 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}, cipher, dir, rt, nil)
	require.NoError(t, disc.Start(context.Background()))
	t.Cleanup(func() { disc.Close() })

	return &testNode{discovery: disc, directory: dir, router: rt}
}

func echoHandler(ctx context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

func (n *testNode) waitForService(t *testing.T, service string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(n.directory.Providers(service)) > 0
	}, 5*time.Second, 10*time.Millisecond, "service %q never appeared", service)
}

func TestBootstrapFromSeed(t *testing.T) {
	seed := startTestNode(t)
	require.NoError(t, seed.router.Register("echo", echoHandler))

	joiner := startTestNode(t, seed.discovery.Addr())
	joiner.waitForService(t, "echo")

	response, err := joiner.router.Dispatch(context.Background(), "echo", []byte("over the wire"))
	require.NoError(t, err)
	require.Equal(t, []byte("over the wire"), response)
}

func TestHandshakeIsSymmetric(t *testing.T) {
	seed := startTestNode(t)
	require.NoError(t, seed.router.Register("seed-svc", echoHandler))

	joiner := startTestNode(t, seed.discovery.Addr())
	require.NoError(t, joiner.router.Register("joiner-svc", echoHandler))

	joiner.waitForService(t, "seed-svc")
	seed.waitForService(t, "joiner-svc")
}

func TestMembershipSpreadsTransitively(t *testing.T) {
	a := startTestNode(t)
	require.NoError(t, a.router.Register("svc-a", echoHandler))

	b := startTestNode(t, a.discovery.Addr())
	require.NoError(t, b.router.Register("svc-b", echoHandler))
	b.waitForService(t, "svc-a")

	// c only knows a, but a's handshake reply names b.
	c := startTestNode(t, a.discovery.Addr())
	require.NoError(t, c.router.Register("svc-c", echoHandler))

	c.waitForService(t, "svc-a")
	c.waitForService(t, "svc-b")
	b.waitForService(t, "svc-c")
}

func TestServiceAnnouncements(t *testing.T) {
	seed := startTestNode(t)
	joiner := startTestNode(t, seed.discovery.Addr())

	require.Eventually(t, func() bool {
		return len(joiner.discovery.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, seed.router.Register("late-svc", echoHandler))
	joiner.waitForService(t, "late-svc")

	seed.router.Deregister("late-svc")
	require.Eventually(t, func() bool {
		return len(joiner.directory.Providers("late-svc")) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReservedNamesStayHidden(t *testing.T) {
	seed := startTestNode(t)
	joiner := startTestNode(t, seed.discovery.Addr())

	require.Eventually(t, func() bool {
		return len(joiner.discovery.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Empty(t, joiner.directory.Providers(handshakeService))
	require.Empty(t, joiner.directory.Providers(servicesService))
}

func TestPeerLossRemovesProviders(t *testing.T) {
	seed := startTestNode(t)
	require.NoError(t, seed.router.Register("fleeting", echoHandler))

	joiner := startTestNode(t, seed.discovery.Addr())
	joiner.waitForService(t, "fleeting")

	seed.discovery.Close()

	require.Eventually(t, func() bool {
		return len(joiner.directory.Providers("fleeting")) == 0
	}, 5*time.Second, 10*time.Millisecond, "providers of a dead peer must be removed")
}

func TestUnreachableSeedIsEvicted(t *testing.T) {
	cipher := testutil.NewCipher(t)
	dir := directory.New()
	rt := router.New(dir, balancer.NewDynamicRoundRobin(), time.Second, nil)

	disc := New(Config{
		BindAddress:    "127.0.0.1:0",
		Seeds:          []string{"127.0.0.1:1"},
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		MaxAttempts:    3,
		RequestTimeout: time.Second,
	}, cipher, dir, rt, nil)
	require.NoError(t, disc.Start(context.Background()))
	t.Cleanup(func() { disc.Close() })

	require.Eventually(t, func() bool {
		return len(disc.Peers()) == 0
	}, 5*time.Second, 5*time.Millisecond, "unreachable seed must be evicted")
}

func TestEvictionSkipsPeerWithLiveConnection(t *testing.T) {
	seed := startTestNode(t)
	require.NoError(t, seed.router.Register("stable", echoHandler))

	joiner := startTestNode(t, seed.discovery.Addr())
	joiner.waitForService(t, "stable")

	// An inbound handshake can land between a failed dial and the
	// maintainer's eviction; the live connection must win.
	addr := seed.discovery.Addr()
	require.False(t, joiner.discovery.evict(addr))
	require.Len(t, joiner.discovery.Peers(), 1)
	require.Len(t, joiner.directory.Providers("stable"), 1)

	seed.discovery.Close()
	require.Eventually(t, func() bool {
		return len(joiner.discovery.Peers()) == 0
	}, 5*time.Second, 10*time.Millisecond, "a dead peer must still be evicted")
}

func TestPeerAnnouncedReservedNamesAreDropped(t *testing.T) {
	node := startTestNode(t)

	conn, err := transport.Dial(context.Background(), node.discovery.Addr(), testutil.NewCipher(t), transport.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	hello, err := protocol.Marshal(&protocol.Hello{
		Address:  "203.0.113.7:4200",
		Services: []string{handshakeService, "orders"},
	})
	require.NoError(t, err)
	_, err = conn.Request(ctx, handshakeService, hello)
	require.NoError(t, err)

	require.Len(t, node.directory.Providers("orders"), 1)
	require.Empty(t, node.directory.Providers(handshakeService))

	update, err := protocol.Marshal(&protocol.ServiceUpdate{
		Address:  "203.0.113.7:4200",
		Services: []string{servicesService, "orders", "billing"},
	})
	require.NoError(t, err)
	_, err = conn.Request(ctx, servicesService, update)
	require.NoError(t, err)

	require.Len(t, node.directory.Providers("orders"), 1)
	require.Len(t, node.directory.Providers("billing"), 1)
	require.Empty(t, node.directory.Providers(servicesService))
	require.Empty(t, node.directory.Providers(handshakeService))
}

func TestCloseIsIdempotent(t *testing.T) {
	node := startTestNode(t)
	require.NoError(t, node.discovery.Close())
	require.NoError(t, node.discovery.Close())
}
