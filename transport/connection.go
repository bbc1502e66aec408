package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/delix-net/delix/crypto"
	"github.com/delix-net/delix/protocol"
)

// State describes the lifecycle of a Connection. Closed is terminal; a new
// Connection must be dialed to retry a peer.
type State int32

const (
	StateHandshaking State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handler serves a request initiated by the peer. The returned payload (or
// error) becomes the response packet. Errors of type *protocol.Error keep
// their result code; any other error maps to protocol.Other.
type Handler func(ctx context.Context, conn *Connection, service string, payload []byte) ([]byte, error)

// Options configures a Connection.
type Options struct {
	// Handler serves peer-initiated requests. A nil handler answers every
	// inbound request with not-found.
	Handler Handler

	// HandlerTimeout bounds the execution of a single inbound request.
	HandlerTimeout time.Duration

	Logger *zap.Logger
}

const defaultHandlerTimeout = 30 * time.Second

// Connection is one authenticated, encrypted duplex stream to a peer,
// multiplexing any number of concurrent logical requests.
type Connection struct {
	conn           net.Conn
	cipher         *crypto.Cipher
	handler        Handler
	handlerTimeout time.Duration
	logger         *zap.Logger

	state    *atomic.Int32
	peerAddr *atomic.String

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint32]chan *protocol.Packet
	nextID    uint32
	parity    uint32

	closeOnce sync.Once
	done      chan struct{}
}

// Dial establishes a connection to addr and starts its reader. The returned
// connection is in the Handshaking state; callers perform the membership
// handshake and then MarkOpen it.
func Dial(ctx context.Context, addr string, cipher *crypto.Cipher, opts Options) (*Connection, error) {
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn := newConnection(nc, cipher, true, opts)
	go conn.readLoop()
	return conn, nil
}

func newConnection(nc net.Conn, cipher *crypto.Cipher, initiator bool, opts Options) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handlerTimeout := opts.HandlerTimeout
	if handlerTimeout <= 0 {
		handlerTimeout = defaultHandlerTimeout
	}

	// Request id parity: the dialing side allocates even ids, the accepting
	// side odd ones. Peer-allocated ids can then never collide with ids this
	// side has in flight.
	parity := uint32(1)
	if initiator {
		parity = 0
	}

	return &Connection{
		conn:           nc,
		cipher:         cipher,
		handler:        opts.Handler,
		handlerTimeout: handlerTimeout,
		logger:         logger,
		state:          atomic.NewInt32(int32(StateHandshaking)),
		peerAddr:       atomic.NewString(""),
		pending:        make(map[uint32]chan *protocol.Packet),
		nextID:         parity,
		parity:         parity,
		done:           make(chan struct{}),
	}
}

// Addr returns the peer's advertised node address once the handshake has
// completed, falling back to the network-level remote address before that.
func (c *Connection) Addr() string {
	if addr := c.peerAddr.Load(); addr != "" {
		return addr
	}
	return c.conn.RemoteAddr().String()
}

// LocalAddr returns the network-level local address of the stream.
func (c *Connection) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// MarkOpen records the peer's advertised address and transitions the
// connection from Handshaking to Open. It has no effect on a closing or
// closed connection.
func (c *Connection) MarkOpen(peerAddr string) {
	c.peerAddr.Store(peerAddr)
	c.state.CompareAndSwap(int32(StateHandshaking), int32(StateOpen))
}

// Done is closed when the connection has closed, whatever the reason.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Request sends payload to the named service on the peer and suspends the
// caller until the correlated response arrives, ctx expires, or the
// connection closes. A context deadline frees the pending slot; a response
// arriving after that is discarded by the reader.
func (c *Connection) Request(ctx context.Context, service string, payload []byte) ([]byte, error) {
	if state := c.State(); state == StateClosing || state == StateClosed {
		return nil, protocol.Errorf(protocol.NotConnected, "connection to %s is %s", c.Addr(), state)
	}

	envelope, err := protocol.Marshal(&protocol.Request{Service: service, Payload: payload})
	if err != nil {
		return nil, protocol.Errorf(protocol.InvalidInput, "encode request: %v", err)
	}

	id, ch := c.register()
	packet := &protocol.Packet{RequestID: id, Result: protocol.Ok, Payload: envelope}
	if err := c.write(packet); err != nil {
		c.unregister(id)
		c.Close()
		return nil, protocol.WrapError(err)
	}

	select {
	case response := <-ch:
		return responseOf(response)

	case <-ctx.Done():
		if !c.unregister(id) {
			// The slot is already gone: either the reader resolved it (the
			// response is buffered) or the connection closed underneath us.
			select {
			case response := <-ch:
				return responseOf(response)
			case <-c.done:
				select {
				case response := <-ch:
					return responseOf(response)
				default:
					return nil, protocol.Errorf(protocol.ConnectionAborted, "connection to %s closed", c.Addr())
				}
			}
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, protocol.Errorf(protocol.Interrupted, "request to %q canceled", service)
		}
		return nil, protocol.Errorf(protocol.TimedOut, "request to %q timed out", service)

	case <-c.done:
		select {
		case response := <-ch:
			return responseOf(response)
		default:
			return nil, protocol.Errorf(protocol.ConnectionAborted, "connection to %s closed", c.Addr())
		}
	}
}

func responseOf(packet *protocol.Packet) ([]byte, error) {
	if packet.Result != protocol.Ok {
		return nil, &protocol.Error{Result: packet.Result, Message: packet.Message}
	}
	return packet.Payload, nil
}

// register allocates a fresh request id and its pending slot. Ids wrap but
// are never handed out while still in flight.
func (c *Connection) register() (uint32, chan *protocol.Packet) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	id := c.nextID
	for {
		if _, inFlight := c.pending[id]; !inFlight {
			break
		}
		id += 2
	}
	c.nextID = id + 2

	ch := make(chan *protocol.Packet, 1)
	c.pending[id] = ch
	return id, ch
}

// unregister removes a pending slot, reporting whether it was still present.
func (c *Connection) unregister(id uint32) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// resolve fulfills the pending slot for a response packet. The buffered send
// happens under the lock so that a caller observing a missing slot can rely
// on the response being buffered already.
func (c *Connection) resolve(packet *protocol.Packet) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ch, ok := c.pending[packet.RequestID]
	if !ok {
		return false
	}
	delete(c.pending, packet.RequestID)
	ch <- packet
	return true
}

func (c *Connection) write(packet *protocol.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.conn, c.cipher, packet)
}

// readLoop is the single reader of the stream. It resolves responses to local
// requests and dispatches peer-initiated requests to the handler. Any read,
// authentication or decode failure ends the loop and closes the connection.
func (c *Connection) readLoop() {
	defer c.Close()

	for {
		packet, err := protocol.ReadFrame(c.conn, c.cipher)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("connection read failed",
					zap.String("peer", c.Addr()),
					zap.Error(err))
			}
			return
		}

		if packet.RequestID%2 == c.parity {
			// An id we allocated: this is a response. No slot means the
			// request already timed out; the late response is dropped.
			if !c.resolve(packet) {
				c.logger.Debug("dropping late response",
					zap.String("peer", c.Addr()),
					zap.Uint32("request_id", packet.RequestID))
			}
			continue
		}

		request, err := protocol.Unmarshal[protocol.Request](packet.Payload)
		if err != nil {
			c.logger.Warn("malformed request envelope, closing connection",
				zap.String("peer", c.Addr()),
				zap.Error(err))
			return
		}
		go c.serve(packet.RequestID, request)
	}
}

// serve runs the handler for one inbound request and writes the response.
func (c *Connection) serve(id uint32, request *protocol.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), c.handlerTimeout)
	defer cancel()

	var payload []byte
	var err error
	if c.handler == nil {
		err = protocol.Errorf(protocol.NotFound, "no handler for service %q", request.Service)
	} else {
		payload, err = c.handler(ctx, c, request.Service, request.Payload)
	}

	response := &protocol.Packet{RequestID: id, Result: protocol.Ok, Payload: payload}
	if err != nil {
		perr := protocol.WrapError(err)
		response.Result = perr.Result
		response.Message = perr.Message
		response.Payload = nil
	}

	if err := c.write(response); err != nil {
		c.logger.Debug("writing response failed",
			zap.String("peer", c.Addr()),
			zap.Uint32("request_id", id),
			zap.Error(err))
		c.Close()
	}
}

// Close shuts the connection down. It is idempotent: the first call closes
// the stream, wakes every outstanding request exactly once and clears the
// pending table.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
		c.conn.Close()

		c.pendingMu.Lock()
		c.pending = make(map[uint32]chan *protocol.Packet)
		c.pendingMu.Unlock()

		c.state.Store(int32(StateClosed))
	})
	return nil
}
