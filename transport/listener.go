package transport

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/delix-net/delix/crypto"
)

// Listener accepts inbound connections, starts their readers and hands them
// to the owner. Accepted connections start in the Handshaking state; the
// owner marks them open once the peer has introduced itself.
type Listener struct {
	ln     net.Listener
	cipher *crypto.Cipher
	opts   Options
	onConn func(*Connection)
	logger *zap.Logger

	mu    sync.Mutex
	conns map[*Connection]struct{}

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Listen binds addr and starts accepting connections. onConn is invoked for
// every accepted connection, in its own goroutine.
func Listen(addr string, cipher *crypto.Cipher, opts Options, onConn func(*Connection)) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	listener := &Listener{
		ln:     ln,
		cipher: cipher,
		opts:   opts,
		onConn: onConn,
		logger: logger,
		conns:  make(map[*Connection]struct{}),
		done:   make(chan struct{}),
	}

	listener.wg.Add(1)
	go listener.acceptLoop()
	return listener, nil
}

// Addr returns the bound address, with the actual port when addr was ":0".
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-l.done:
				return
			default:
				l.logger.Warn("accept failed", zap.Error(err))
				continue
			}
		}

		conn := newConnection(nc, l.cipher, false, l.opts)
		l.track(conn)
		go conn.readLoop()
		go l.onConn(conn)
	}
}

func (l *Listener) track(conn *Connection) {
	l.mu.Lock()
	l.conns[conn] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-conn.Done()
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
	}()
}

// Close stops accepting and closes every connection accepted by this
// listener. Idempotent.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.ln.Close()

		l.mu.Lock()
		conns := make([]*Connection, 0, len(l.conns))
		for conn := range l.conns {
			conns = append(conns, conn)
		}
		l.mu.Unlock()

		for _, conn := range conns {
			conn.Close()
		}
		l.wg.Wait()
	})
	return nil
}
