// Package inspect serves the live profiler views over HTTP. JSON endpoints
// expose snapshots and controls; a websocket endpoint pushes statistics at
// a fixed interval.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/frameprof/internal/constants"
	"github.com/coral-mesh/frameprof/internal/logging"
	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
	"github.com/coral-mesh/frameprof/pkg/profiler/hierarchy"
	"github.com/coral-mesh/frameprof/pkg/profiler/registry"
	"github.com/coral-mesh/frameprof/pkg/profiler/tracestream"
)

// Profiler is the part of *profiler.Profiler the inspector uses.
type Profiler interface {
	Statistics() profiler.Statistics
	SnapshotTopN(slot int) []profiler.TopEntry
	SnapshotHierarchy() []hierarchy.Row
	SnapshotHistory(slot int) []float64
	ExportTraceEventStream() []tracestream.Event
	Threads() []registry.Slot
	Hierarchy() *hierarchy.Pool

	SetMode(m profiler.Mode) error
	SetExclusive(exclusive bool)
	SetFilter(c event.Category)
	SetThreadVisible(slot int32, visible bool)
	DumpFrames(n int) error
	Freeze()
	Unfreeze()
}

// Config configures the inspector.
type Config struct {
	Addr string
	// PushInterval is the period of websocket statistics pushes.
	PushInterval time.Duration
	// HitchDetection is shown in the text report.
	HitchDetection bool
	Logger         zerolog.Logger
}

// Server is the inspector HTTP server.
type Server struct {
	cfg        Config
	prof       Profiler
	logger     zerolog.Logger
	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
}

// New creates an inspector for prof.
func New(cfg Config, prof Profiler) *Server {
	if cfg.Addr == "" {
		cfg.Addr = constants.DefaultInspectAddr
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = constants.DefaultFlushInterval
	}
	s := &Server{
		cfg:    cfg,
		prof:   prof,
		logger: logging.Component(cfg.Logger, "inspect"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		quit: make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
	})

	mux.HandleFunc("GET /api/v1/statistics", s.handleStatistics)
	mux.HandleFunc("GET /api/v1/report", s.handleReport)
	mux.HandleFunc("GET /api/v1/threads", s.handleThreads)
	mux.HandleFunc("GET /api/v1/threads/{slot}/top", s.handleTopN)
	mux.HandleFunc("GET /api/v1/threads/{slot}/history", s.handleHistory)
	mux.HandleFunc("PUT /api/v1/threads/{slot}/visible", s.handleVisible)
	mux.HandleFunc("GET /api/v1/hierarchy", s.handleHierarchy)
	mux.HandleFunc("PUT /api/v1/hierarchy/selection", s.handleSelect)
	mux.HandleFunc("POST /api/v1/hierarchy/{node}/toggle-children", s.handleToggleChildren)
	mux.HandleFunc("POST /api/v1/hierarchy/{node}/toggle-graph", s.handleToggleGraph)
	mux.HandleFunc("GET /api/v1/hierarchy/{node}/history", s.handleNodeHistory)
	mux.HandleFunc("GET /api/v1/trace", s.handleTrace)

	mux.HandleFunc("PUT /api/v1/mode", s.handleMode)
	mux.HandleFunc("PUT /api/v1/filter", s.handleFilter)
	mux.HandleFunc("PUT /api/v1/exclusive", s.handleExclusive)
	mux.HandleFunc("POST /api/v1/dump", s.handleDump)
	mux.HandleFunc("POST /api/v1/freeze", s.handleFreeze)
	mux.HandleFunc("POST /api/v1/unfreeze", s.handleUnfreeze)

	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	return requestLog(s.logger)(s.recoverJSON(mux))
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting inspector")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Inspector server error")
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// URL returns the base URL of the inspector.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// Stop closes open streams and shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.quit) })
	s.logger.Info().Msg("Stopping inspector")
	return s.httpServer.Shutdown(ctx)
}

// Run starts the server and stops it once ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}
