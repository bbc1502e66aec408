package router

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/delix-net/delix/balancer"
	"github.com/delix-net/delix/directory"
	"github.com/delix-net/delix/internal/telemetry"
	"github.com/delix-net/delix/protocol"
)

// Handler serves a locally hosted service.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// ErrServiceAlreadyExists is returned when registering a local service twice.
var ErrServiceAlreadyExists = errors.New("service already exists")

// Router orchestrates dispatch: directory lookup, balancing, failover.
type Router struct {
	directory *directory.Directory
	balancer  balancer.Strategy
	timeout   time.Duration
	logger    *zap.Logger

	mu    sync.RWMutex
	local map[string]Handler

	// onLocalChange is notified with the full local service list after
	// every registration change; discovery uses it to announce updates.
	onLocalChange func([]string)
}

// New creates a router. timeout bounds each dispatch unless the caller's
// context carries an earlier deadline.
func New(dir *directory.Directory, strategy balancer.Strategy, timeout time.Duration, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		directory: dir,
		balancer:  strategy,
		timeout:   timeout,
		logger:    logger,
		local:     make(map[string]Handler),
	}
}

// OnLocalChange sets the local-service change callback. Must be called
// before the router is shared.
func (r *Router) OnLocalChange(fn func([]string)) {
	r.onLocalChange = fn
}

// Register adds a local handler for a service. The handler joins the
// directory as a provider and is balanced like any remote one.
func (r *Router) Register(service string, handler Handler) error {
	r.mu.Lock()
	if _, exists := r.local[service]; exists {
		r.mu.Unlock()
		return ErrServiceAlreadyExists
	}
	r.local[service] = handler
	r.mu.Unlock()

	r.directory.Register(service, &localProvider{service: service, handler: handler})
	r.notifyLocalChange()
	return nil
}

// Deregister removes a local handler.
func (r *Router) Deregister(service string) {
	r.mu.Lock()
	_, exists := r.local[service]
	delete(r.local, service)
	r.mu.Unlock()

	if exists {
		r.directory.Unregister(service, localAddr)
		r.notifyLocalChange()
	}
}

// LocalServices lists the locally hosted service names, sorted.
func (r *Router) LocalServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.local))
	for name := range r.local {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) notifyLocalChange() {
	if r.onLocalChange != nil {
		r.onLocalChange(r.LocalServices())
	}
}

// Dispatch routes one request to a provider of the named service.
func (r *Router) Dispatch(ctx context.Context, service string, payload []byte) ([]byte, error) {
	start := time.Now()
	response, err := r.dispatch(ctx, service, payload)
	telemetry.ObserveRequest(service, protocol.FromError(err).String(), time.Since(start))
	return response, err
}

func (r *Router) dispatch(ctx context.Context, service string, payload []byte) ([]byte, error) {
	providers := r.directory.Providers(service)
	if len(providers) == 0 {
		return nil, protocol.Errorf(protocol.NotFound, "service %q does not exist", service)
	}

	if r.timeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
	}

	byAddr := make(map[string]directory.Provider, len(providers))
	candidates := make([]string, 0, len(providers))
	for _, provider := range providers {
		byAddr[provider.Addr()] = provider
		candidates = append(candidates, provider.Addr())
	}

	for attempt := 0; attempt < len(providers) && len(candidates) > 0; attempt++ {
		addr, err := r.balancer.Select(candidates)
		if err != nil {
			break
		}

		response, err := byAddr[addr].Request(ctx, service, payload)
		if err == nil {
			r.balancer.Report(addr, true)
			return response, nil
		}
		r.balancer.Report(addr, false)

		perr := protocol.WrapError(err)
		if !perr.Result.IsTransportFault() {
			// Authoritative outcome from the provider, or a timeout owned
			// by the caller: surface it, never retry elsewhere.
			return nil, perr
		}

		r.logger.Debug("provider failed, trying next candidate",
			zap.String("service", service),
			zap.String("provider", addr),
			zap.String("result", perr.Result.String()))
		telemetry.Failovers.WithLabelValues(service).Inc()
		candidates = remove(candidates, addr)
	}

	return nil, protocol.Errorf(protocol.NotConnected, "all providers of %q are unavailable", service)
}

// ServeInbound serves a request that arrived from a peer. Only locally
// hosted services are eligible; requests are not forwarded another hop.
func (r *Router) ServeInbound(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	handler, ok := r.local[service]
	r.mu.RUnlock()
	if !ok {
		return nil, protocol.Errorf(protocol.NotFound, "service %q does not exist", service)
	}
	return handler(ctx, payload)
}

func remove(candidates []string, addr string) []string {
	remaining := candidates[:0]
	for _, candidate := range candidates {
		if candidate != addr {
			remaining = append(remaining, candidate)
		}
	}
	return remaining
}

// localAddr identifies the local node's own providers in the directory.
const localAddr = "local"

type localProvider struct {
	service string
	handler Handler
}

func (p *localProvider) Addr() string { return localAddr }

func (p *localProvider) Request(ctx context.Context, service string, payload []byte) ([]byte, error) {
	return p.handler(ctx, payload)
}
