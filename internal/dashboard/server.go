package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bmad-assist/bmad-assist/internal/compiler"
	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/events"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// autoPortAttempts bounds the successive-port search when the requested port
// is busy.
const autoPortAttempts = 20

// Options holds server configuration overrides. Zero values fall back to the
// dashboard section of the merged config.
type Options struct {
	Host     string
	Port     int
	AutoPort *bool
	Logger   *slog.Logger
}

// Server is the bmad-assist dashboard server.
type Server struct {
	project  *paths.Project
	cfg      *config.Config
	mux      *http.ServeMux
	logger   *slog.Logger
	pub      events.Publisher
	compiler *compiler.Compiler
	ws       *WSHandler
	watcher  *configWatcher

	host     string
	port     int
	autoPort bool

	mu   sync.Mutex
	addr string // bound address, set once Start has a listener
}

// New creates a dashboard server over an event publisher. The publisher is
// fed either in-process by the loop or by a ChildReader parsing a child
// process's stdout markers.
func New(project *paths.Project, cfg *config.Config, pub events.Publisher, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := opts.Host
	if host == "" {
		host = cfg.Dashboard.Host
	}
	port := opts.Port
	if port == 0 {
		port = cfg.Dashboard.Port
	}
	autoPort := cfg.Dashboard.AutoPort
	if opts.AutoPort != nil {
		autoPort = *opts.AutoPort
	}

	s := &Server{
		project:  project,
		cfg:      cfg,
		mux:      http.NewServeMux(),
		logger:   logger,
		pub:      pub,
		compiler: compiler.New(project, cfg),
		host:     host,
		port:     port,
		autoPort: autoPort,
	}
	s.ws = NewWSHandler(pub, logger)
	s.registerRoutes()
	return s
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	cors := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			h(w, r)
		}
	}

	// Loop status
	s.mux.HandleFunc("GET /api/status", cors(s.handleStatus))
	s.mux.HandleFunc("GET /api/version", cors(s.handleVersion))

	// Sprint entities
	s.mux.HandleFunc("GET /api/stories", cors(s.handleListStories))
	s.mux.HandleFunc("GET /api/epics/{id}", cors(s.handleGetEpic))
	s.mux.HandleFunc("GET /api/epics/{id}/stories/{sid}", cors(s.handleGetStory))

	// Artifacts
	s.mux.HandleFunc("GET /api/prompt/{epic}/{story}/{phase}", cors(s.handleGetPrompt))
	s.mux.HandleFunc("GET /api/validation/{epic}/{story}", cors(s.handleGetValidations))
	s.mux.HandleFunc("GET /api/report/content", cors(s.handleReportContent))

	// Loop control via the pause flag file
	s.mux.HandleFunc("POST /api/control/pause", cors(s.handlePause))
	s.mux.HandleFunc("POST /api/control/resume", cors(s.handleResume))

	// Config CRUD
	s.mux.HandleFunc("GET /api/config", cors(s.handleGetConfig))
	s.mux.HandleFunc("GET /api/config/value", cors(s.handleGetConfigValue))
	s.mux.HandleFunc("PUT /api/config/value", cors(s.handlePutConfigValue))
	s.mux.HandleFunc("GET /api/config/schema", cors(s.handleConfigSchema))
	s.mux.HandleFunc("GET /api/config/export", cors(s.handleConfigExport))
	s.mux.HandleFunc("POST /api/config/import", cors(s.handleConfigImport))

	// Playwright probe
	s.mux.HandleFunc("GET /api/playwright/status", cors(s.handlePlaywrightStatus))

	// Event streams
	s.mux.HandleFunc("GET /sse/output", s.handleSSE)
	s.mux.HandleFunc("GET /ws", s.ws.ServeHTTP)
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler exposes the route mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// listen binds the first free port starting at the configured one. With
// auto-port disabled a busy port is an immediate error.
func (s *Server) listen() (net.Listener, error) {
	attempts := 1
	if s.autoPort {
		attempts = autoPortAttempts
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		addr := fmt.Sprintf("%s:%d", s.host, s.port+i)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			if i > 0 {
				s.logger.Info("port busy, moved to next free port", "addr", addr)
			}
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in %d attempts from %s:%d: %w",
		attempts, s.host, s.port, lastErr)
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	if w, err := newConfigWatcher(s.project, s.pub, s.logger); err != nil {
		s.logger.Warn("config watcher unavailable", "error", err)
	} else {
		s.watcher = w
		go s.watcher.run(ctx)
	}

	server := &http.Server{Handler: s.mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting dashboard server", "addr", s.addr)
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
