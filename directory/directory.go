package directory

import (
	"context"
	"sort"
	"sync"
)

// Provider is anything that can serve a request for a service: a connection
// to a remote node, or a locally registered handler.
type Provider interface {
	// Addr identifies the provider; remote providers use the peer's
	// advertised node address.
	Addr() string

	// Request sends a payload to the named service on this provider and
	// returns the response payload.
	Request(ctx context.Context, service string, payload []byte) ([]byte, error)
}

// Directory maps service names to their provider sets.
type Directory struct {
	mu       sync.RWMutex
	services map[string]map[string]Provider
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{services: make(map[string]map[string]Provider)}
}

// Register adds a provider for a service. Registering the same provider
// address again replaces the previous entry.
func (d *Directory) Register(service string, provider Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()

	providers, ok := d.services[service]
	if !ok {
		providers = make(map[string]Provider)
		d.services[service] = providers
	}
	providers[provider.Addr()] = provider
}

// Unregister removes one provider from one service. A service with no
// providers left disappears entirely.
func (d *Directory) Unregister(service, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	providers, ok := d.services[service]
	if !ok {
		return
	}
	delete(providers, addr)
	if len(providers) == 0 {
		delete(d.services, service)
	}
}

// RemoveProvider evicts a provider from every service at once, atomically
// with respect to concurrent Providers reads.
func (d *Directory) RemoveProvider(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for service, providers := range d.services {
		delete(providers, addr)
		if len(providers) == 0 {
			delete(d.services, service)
		}
	}
}

// Providers returns a snapshot of the provider set for a service. An empty
// result means the service is unroutable.
func (d *Directory) Providers(service string) []Provider {
	d.mu.RLock()
	defer d.mu.RUnlock()

	providers := d.services[service]
	snapshot := make([]Provider, 0, len(providers))
	for _, provider := range providers {
		snapshot = append(snapshot, provider)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Addr() < snapshot[j].Addr() })
	return snapshot
}

// Services lists all routable service names, sorted.
func (d *Directory) Services() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.services))
	for name := range d.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns service names mapped to their provider addresses, for
// inspection endpoints.
func (d *Directory) Snapshot() map[string][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snapshot := make(map[string][]string, len(d.services))
	for name, providers := range d.services {
		addrs := make([]string, 0, len(providers))
		for addr := range providers {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)
		snapshot[name] = addrs
	}
	return snapshot
}
