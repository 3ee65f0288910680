// Package server exposes the canvas service over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/benoitkugler/okcanvas/internal/canvas"
	"github.com/benoitkugler/okcanvas/internal/logger"
	"github.com/benoitkugler/okcanvas/internal/middleware"
)

// Config holds the HTTP listener settings.
type Config struct {
	Addr           string
	StaticDir      string // empty disables static hosting
	MaxUploadBytes int64
	MaxConnections int // 0 means unlimited
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// RateLimit is applied per client when RequestsPerSecond > 0.
	RateLimit middleware.RateLimitConfig
}

const defaultMaxUploadBytes = 16 << 20

// Server is the HTTP front of a canvas.Service.
type Server struct {
	svc       *canvas.Service
	cfg       Config
	logger    *slog.Logger
	httpSrv   *http.Server
	boundAddr string
}

// New creates a server. A nil logger discards the messages.
func New(svc *canvas.Service, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Server{svc: svc, cfg: cfg, logger: log}
}

// Handler returns the routes wrapped in the middlewares.
// Background tasks of the middlewares stop with ctx.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/initialize", s.handleInitialize)
	mux.HandleFunc("POST /api/draw/rectangle", s.handleRectangle)
	mux.HandleFunc("POST /api/draw/circle", s.handleCircle)
	mux.HandleFunc("POST /api/draw/text", s.handleText)
	mux.HandleFunc("POST /api/draw/image", s.handleImage)
	mux.HandleFunc("GET /api/export/{id}", s.handleExport)
	mux.HandleFunc("GET /api/debug/{id}", s.handleDebug)
	mux.HandleFunc("GET /api/preview/{id}", s.handlePreview)
	mux.HandleFunc("GET /api/watch/{id}", s.handleWatch)
	mux.HandleFunc("DELETE /api/session/{id}", s.handleDelete)
	mux.HandleFunc("/api/", s.handleNotFound)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.StaticDir != "" {
		mux.Handle("/", spaHandler(s.cfg.StaticDir))
	}

	mws := []func(http.Handler) http.Handler{
		middleware.Recover(s.logger),
		middleware.Logging(s.logger),
		middleware.SecurityHeaders,
	}
	if rl := s.cfg.RateLimit; rl.RequestsPerSecond > 0 {
		if rl.OnLimit == nil {
			rl.OnLimit = func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: "RATE_LIMITED"})
			}
		}
		mws = append(mws, middleware.RateLimit(ctx, rl))
	}
	return middleware.Chain(mux, mws...)
}

// Start serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	if s.cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, s.cfg.MaxConnections)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	s.logger.Info("server started", "addr", s.boundAddr, "static_dir", s.cfg.StaticDir)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }
