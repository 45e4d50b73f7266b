package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/spandeck/spandeck/internal/api/http"
	"github.com/spandeck/spandeck/internal/api/middleware"
	"github.com/spandeck/spandeck/internal/api/ws"
	"github.com/spandeck/spandeck/internal/domain/broadcast"
	"github.com/spandeck/spandeck/internal/infrastructure/config"
	"github.com/spandeck/spandeck/internal/infrastructure/logging"
	"github.com/spandeck/spandeck/internal/infrastructure/monitoring"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	hub     *broadcast.Hub
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new relay server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		logger = logging.NewDefault()
		logger.Warn("Invalid log level, using info", zap.String("level", cfg.Logging.Level))
	}

	logger.Info("Initializing spandeck relay",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
	)

	metrics := monitoring.NewMetrics()
	logger.Info("Performance monitoring initialized")

	hub := broadcast.NewHub(logger.Logger, nil, cfg.Hub.ViewerBuffer).WithMetrics(metrics)

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
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(hub, cfg, logger.Logger, metrics)
	wsHandler := ws.NewHandler(hub, logger.Logger, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/stats", handlers.Stats)

	// Viewer and source streams
	router.GET("/stream", wsHandler.HandleViewer)
	router.GET("/ingest/stream", wsHandler.HandleSource)

	// Batch ingest and log control
	router.POST("/ingest", handlers.Ingest)
	router.POST("/clear", handlers.Clear)

	// Server-side reconstruction views
	router.GET("/snapshot", handlers.Snapshot)
	router.GET("/layout", handlers.Layout)
	router.GET("/log/export", handlers.ExportLog)

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("Relay initialized successfully")

	return &Server{
		router:  router,
		hub:     hub,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Hub exposes the broadcaster, mainly for tests.
func (s *Server) Hub() *broadcast.Hub { return s.hub }

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down relay...")
	s.logger.Sync()
	return nil
}
