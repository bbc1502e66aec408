package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/delix-net/delix/protocol"
	"github.com/delix-net/delix/router"
)

// DefaultHeader names the request header carrying the target service.
const DefaultHeader = "X-Delix-Service"

// Request is the overlay representation of one HTTP request.
type Request struct {
	Method string      `json:"method"`
	Path   string      `json:"path"`
	Query  string      `json:"query,omitempty"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// Response is the overlay representation of one HTTP response.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// Dispatcher routes a request to a provider of the named service. Satisfied
// by router.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, service string, payload []byte) ([]byte, error)
}

// Config tunes the HTTP ingress.
type Config struct {
	// Address is the TCP address to serve ingress traffic on.
	Address string

	// Header carrying the target service name. Defaults to DefaultHeader.
	Header string

	// MaxBodySize caps accepted request bodies. Defaults to 8 MiB.
	MaxBodySize int64
}

// HTTPStatic is the ingress server: HTTP in, overlay dispatch out.
type HTTPStatic struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *zap.Logger

	ln     net.Listener
	server *http.Server
}

// NewHTTPStatic builds the ingress server around a dispatcher.
func NewHTTPStatic(cfg Config, dispatcher Dispatcher, logger *zap.Logger) *HTTPStatic {
	if cfg.Header == "" {
		cfg.Header = DefaultHeader
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 8 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	relay := &HTTPStatic{cfg: cfg, dispatcher: dispatcher, logger: logger}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Handle("/*", http.HandlerFunc(relay.serveHTTP))

	relay.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return relay
}

// Start binds the ingress address and serves in the background.
func (h *HTTPStatic) Start() error {
	ln, err := net.Listen("tcp", h.cfg.Address)
	if err != nil {
		return fmt.Errorf("bind relay %s: %w", h.cfg.Address, err)
	}
	h.ln = ln

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("relay server failed", zap.Error(err))
		}
	}()

	h.logger.Info("http relay listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound ingress address. Valid after Start.
func (h *HTTPStatic) Addr() string {
	if h.ln == nil {
		return h.cfg.Address
	}
	return h.ln.Addr().String()
}

// Close shuts the ingress down, draining in-flight requests.
func (h *HTTPStatic) Close(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HTTPStatic) serveHTTP(w http.ResponseWriter, r *http.Request) {
	service := r.Header.Get(h.cfg.Header)
	if service == "" {
		http.Error(w, fmt.Sprintf("missing %s header", h.cfg.Header), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.MaxBodySize+1))
	if err != nil {
		http.Error(w, "reading request body failed", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > h.cfg.MaxBodySize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	header := r.Header.Clone()
	header.Del(h.cfg.Header)

	payload, err := protocol.Marshal(&Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: header,
		Body:   body,
	})
	if err != nil {
		http.Error(w, "encoding request failed", http.StatusInternalServerError)
		return
	}

	reply, err := h.dispatcher.Dispatch(r.Context(), service, payload)
	if err != nil {
		status := statusOf(err)
		h.logger.Debug("relay dispatch failed",
			zap.String("service", service),
			zap.Int("status", status),
			zap.Error(err))
		http.Error(w, err.Error(), status)
		return
	}

	response, err := protocol.Unmarshal[Response](reply)
	if err != nil {
		http.Error(w, "decoding response failed", http.StatusBadGateway)
		return
	}

	for name, values := range response.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	status := response.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(response.Body)
}

// statusOf maps a routing outcome onto an HTTP status code.
func statusOf(err error) int {
	switch result := protocol.FromError(err); {
	case result == protocol.NotFound:
		return http.StatusNotFound
	case result == protocol.TimedOut:
		return http.StatusGatewayTimeout
	case result == protocol.PermissionDenied:
		return http.StatusForbidden
	case result == protocol.InvalidInput, result == protocol.InvalidData:
		return http.StatusBadRequest
	case result.IsTransportFault():
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Backend builds a service handler that replays overlay requests against a
// fixed upstream HTTP server, bridging non-overlay backends into the mesh.
func Backend(target string, timeout time.Duration) router.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	base := strings.TrimSuffix(target, "/")

	return func(ctx context.Context, payload []byte) ([]byte, error) {
		request, err := protocol.Unmarshal[Request](payload)
		if err != nil {
			return nil, protocol.Errorf(protocol.InvalidData, "decode relay request: %v", err)
		}

		url := base + request.Path
		if request.Query != "" {
			url += "?" + request.Query
		}

		upstream, err := http.NewRequestWithContext(ctx, request.Method, url, strings.NewReader(string(request.Body)))
		if err != nil {
			return nil, protocol.Errorf(protocol.InvalidInput, "build upstream request: %v", err)
		}
		for name, values := range request.Header {
			upstream.Header[name] = values
		}

		reply, err := client.Do(upstream)
		if err != nil {
			return nil, protocol.WrapError(err)
		}
		defer reply.Body.Close()

		body, err := io.ReadAll(reply.Body)
		if err != nil {
			return nil, protocol.WrapError(err)
		}

		return protocol.Marshal(&Response{
			Status: reply.StatusCode,
			Header: reply.Header,
			Body:   body,
		})
	}
}
