package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/delix-net/delix/directory"
	"github.com/delix-net/delix/discovery"
	"github.com/delix-net/delix/internal/telemetry"
	"github.com/delix-net/delix/protocol"
	"github.com/delix-net/delix/router"
)

// Overlay is the membership view the admin API reports on. Satisfied by
// discovery.Discovery.
type Overlay interface {
	Addr() string
	Peers() []discovery.PeerInfo
}

// backendSpec is the body of a PUT /api/v1/services/{name} request.
type backendSpec struct {
	Address string `json:"address"`
}

// Admin serves the node inspection endpoints, runtime backend attachment and
// Prometheus metrics.
type Admin struct {
	address   string
	overlay   Overlay
	directory *directory.Directory
	router    *router.Router
	logger    *zap.Logger

	ln     net.Listener
	server *http.Server
}

// NewAdmin builds the admin server.
func NewAdmin(address string, overlay Overlay, dir *directory.Directory, rt *router.Router, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}

	admin := &Admin{
		address:   address,
		overlay:   overlay,
		directory: dir,
		router:    rt,
		logger:    logger,
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Get("/api/v1/node", admin.handleNode)
	mux.Get("/api/v1/peers", admin.handlePeers)
	mux.Get("/api/v1/services", admin.handleServices)
	mux.Put("/api/v1/services/{name}", admin.handleAttachService)
	mux.Delete("/api/v1/services/{name}", admin.handleDetachService)
	mux.Handle("/metrics", telemetry.Handler())

	admin.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return admin
}

// Start binds the admin address and serves in the background.
func (a *Admin) Start() error {
	ln, err := net.Listen("tcp", a.address)
	if err != nil {
		return fmt.Errorf("bind admin %s: %w", a.address, err)
	}
	a.ln = ln

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin server failed", zap.Error(err))
		}
	}()

	a.logger.Info("admin api listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound admin address. Valid after Start.
func (a *Admin) Addr() string {
	if a.ln == nil {
		return a.address
	}
	return a.ln.Addr().String()
}

// Close shuts the admin server down.
func (a *Admin) Close(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func (a *Admin) handleNode(w http.ResponseWriter, r *http.Request) {
	a.respond(w, map[string]any{
		"address":  a.overlay.Addr(),
		"peers":    len(a.overlay.Peers()),
		"services": len(a.directory.Services()),
	})
}

func (a *Admin) handlePeers(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.overlay.Peers())
}

func (a *Admin) handleServices(w http.ResponseWriter, r *http.Request) {
	a.respond(w, a.directory.Snapshot())
}

// handleAttachService hosts a new backend at runtime: the named service is
// registered locally, proxying to the upstream address in the request body,
// and announced to the overlay.
func (a *Admin) handleAttachService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	spec, err := protocol.Decode[backendSpec](r.Body)
	if err != nil || spec.Address == "" {
		http.Error(w, "body must be a JSON object with an address field", http.StatusBadRequest)
		return
	}

	if err := a.router.Register(name, Backend(spec.Address, 0)); err != nil {
		if errors.Is(err, router.ErrServiceAlreadyExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.logger.Info("backend attached",
		zap.String("service", name),
		zap.String("upstream", spec.Address))
	w.WriteHeader(http.StatusCreated)
}

func (a *Admin) handleDetachService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a.router.Deregister(name)
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) respond(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Debug("writing admin response failed", zap.Error(err))
	}
}
