// Package gateway exposes the runtime over HTTP: a websocket JSON-RPC
// endpoint with an out-of-band event stream, plus health and metrics.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/rpc"
	"github.com/haasonsaas/relay/internal/runtime"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsSendQueueDepth  = 64
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// Options configures the gateway server.
type Options struct {
	Listen        string
	EnableMetrics bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the HTTP front of the runtime.
type Server struct {
	rt     *runtime.Runtime
	router *rpc.Router
	opts   Options

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

func NewServer(rt *runtime.Runtime, router *rpc.Router, opts Options) *Server {
	s := &Server{
		rt:      rt,
		router:  router,
		opts:    opts,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				// Local single-user daemon; the bearer of the port
				// is the owner.
				return true
			},
		},
	}
	s.httpServer = &http.Server{
		Addr:              opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table; exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.opts.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// ListenAndServe blocks serving connections until Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes every websocket client and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for c := range s.clients {
		c.close()
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(s, conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	c.run()

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
