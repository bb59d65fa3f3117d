package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/booster/internal/api/middleware"
	"github.com/GriffinCanCode/booster/internal/domain/fleet"
	"github.com/GriffinCanCode/booster/internal/infrastructure/config"
	"github.com/GriffinCanCode/booster/internal/infrastructure/monitoring"
)

const shutdownTimeout = 5 * time.Second

// Server is the optional status server
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *zap.Logger
	metrics *monitoring.Metrics
	fleet   *fleet.Manager
	addr    string
}

// New creates a status server over the given metrics and fleet
func New(cfg *config.Config, metrics *monitoring.Metrics, hosts *fleet.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("status")

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	s := &Server{
		router:  router,
		logger:  logger,
		metrics: metrics,
		fleet:   hosts,
		addr:    cfg.Status.Addr(),
	}

	router.GET("/health", s.health)
	router.GET("/hosts", s.listHosts)
	router.GET("/hosts/:id", s.getHost)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/metrics/json", s.snapshot)

	return s
}

// Router exposes the handler, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// It returns the bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting status server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server stopped", zap.Error(err))
		}
	}()
	return ln.Addr().String(), nil
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("Shutting down status server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down status server: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"hosts":  s.fleet.Count(),
	})
}

func (s *Server) listHosts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"hosts": s.fleet.List(),
		"stats": s.fleet.Stats(),
	})
}

func (s *Server) getHost(c *gin.Context) {
	entry, ok := s.fleet.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "host not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.GetSnapshot())
}
