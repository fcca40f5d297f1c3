package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"photorestore/internal/config"
	"photorestore/internal/metrics"
	"photorestore/internal/middleware"
)

// streamGrace is how long Shutdown lets ordinary requests finish before it
// cancels the contexts that keep event streams open.
const streamGrace = 2 * time.Second

// Routes mounts the API under the group it is given.
type Routes interface {
	Register(router *gin.RouterGroup)
}

type Server struct {
	engine *gin.Engine
	http   *http.Server
	log    zerolog.Logger
	cancel context.CancelFunc
}

func New(cfg *config.AppConfig, log zerolog.Logger, routes Routes) (*Server, error) {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.RedirectTrailingSlash = true
	engine.HandleMethodNotAllowed = true
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	engine.Use(
		middleware.RequestID(log),
		middleware.Logger(log, "/metrics", "/api/healthz"),
		middleware.Recovery(log),
		metrics.Middleware(),
		middleware.CORS(middleware.CORSOptions{
			Origins: cfg.AllowCORSOrigins,
			MaxAge:  cfg.HTTP.CORSMaxAge,
		}),
	)

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	routes.Register(engine.Group("/api"))
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})

	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return base },
	}

	return &Server{
		engine: engine,
		http:   srv,
		log:    log,
		cancel: cancel,
	}, nil
}

// Handler exposes the router for in-process callers and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// graceful stop.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Msg("http server starting")

	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")

	release := time.AfterFunc(streamGrace, s.cancel)
	defer release.Stop()
	defer s.cancel()

	return s.http.Shutdown(ctx)
}
