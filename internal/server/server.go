// Package server exposes the pipeline and the execution sandbox over HTTP.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kyleking/text2sql-router/internal/config"
	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/executor"
	"github.com/kyleking/text2sql-router/internal/logging"
	"github.com/kyleking/text2sql-router/internal/monitor"
	"github.com/kyleking/text2sql-router/internal/pipeline"
)

// Server routes HTTP requests to the pipeline and executor
type Server struct {
	pipeline *pipeline.Pipeline
	executor executor.Executor
	cfg      config.ServerConfig
	engine   *gin.Engine
}

// New builds the router. exec may be nil, in which case /execute-query
// reports the sandbox as unavailable.
func New(p *pipeline.Pipeline, exec executor.Executor, cfg config.ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{pipeline: p, executor: exec, cfg: cfg}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(corsMiddleware(cfg.CORSOrigins))
	router.Use(Timeout(config.Duration(cfg.RequestTimeout, 120*time.Second)))
	router.Use(ErrorHandler())

	router.GET("/ping", s.ping)
	router.POST("/match_schema/", s.matchSchema)
	router.POST("/generate-sql/", s.generateSQL)
	router.POST("/validate-sql/", s.validateSQL)
	router.POST("/execute-query", s.executeQuery)

	s.engine = router

	return s
}

// WithMemoryMonitor exposes the monitor's latest snapshot at GET /debug/memory
func (s *Server) WithMemoryMonitor(m *monitor.MemoryMonitor) *Server {
	s.engine.GET("/debug/memory", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Refresh())
	})

	return s
}

// Handler returns the router for use with httptest or a custom http.Server
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured host and port until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, errors.ErrTypeConfig, "failed to listen on %s", addr)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for up to the shutdown timeout
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log := logging.WithField("addr", ln.Addr().String())
	log.Info("Server listening")

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(s.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	log.Info("Shutting down server")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	return <-errCh
}

// corsMiddleware allows every origin when origins is empty or contains "*"
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}

	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}

	return cors.New(cfg)
}
