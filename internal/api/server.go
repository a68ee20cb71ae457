package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/rtsp2web/internal/database"
	"github.com/yourusername/rtsp2web/internal/metrics"
	"github.com/yourusername/rtsp2web/internal/probe"
	"github.com/yourusername/rtsp2web/internal/stream"
)

// Server is the HTTP control surface: stream CRUD, lifecycle, HLS
// delivery and metrics.
type Server struct {
	logger     *zap.Logger
	httpServer *http.Server
	router     *gin.Engine
	port       int
	startedAt  time.Time

	manager *stream.Manager
	repo    *database.StreamRepository
	prober  *probe.Prober
	metrics *metrics.Metrics
	hlsRoot string
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port       int
	Production bool
	Logger     *zap.Logger
	Manager    *stream.Manager
	Repository *database.StreamRepository
	Prober     *probe.Prober
	Metrics    *metrics.Metrics
	HLSRoot    string
}

// NewServer creates the API server and registers all routes.
func NewServer(config ServerConfig) *Server {
	if config.Production {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggerMiddleware(config.Logger))

	server := &Server{
		logger:    config.Logger,
		router:    router,
		port:      config.Port,
		startedAt: time.Now(),
		manager:   config.Manager,
		repo:      config.Repository,
		prober:    config.Prober,
		metrics:   config.Metrics,
		hlsRoot:   config.HLSRoot,
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/streams", s.handleListStreams)
		v1.POST("/streams", s.handleCreateStream)
		v1.POST("/streams/start", s.handleStartAll)
		v1.POST("/streams/stop", s.handleStopAll)
		v1.GET("/streams/:id", s.handleGetStream)
		v1.DELETE("/streams/:id", s.handleDeleteStream)
		v1.POST("/streams/:id/start", s.handleStartStream)
		v1.POST("/streams/:id/stop", s.handleStopStream)
		v1.GET("/streams/:id/window", s.handleWindow)
		v1.GET("/streams/:id/probe", s.handleProbe)
		v1.GET("/stats", s.handleStats)
	}

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler(s.snapshot)))
	}

	if s.hlsRoot != "" {
		s.router.Static("/hls", s.hlsRoot)
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server",
		zap.String("addr", addr),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	if s.httpServer != nil {
		return s.httpServer.Close()
	}

	return nil
}

func (s *Server) snapshot() metrics.Snapshot {
	clients, bytesRelayed, running := s.manager.Totals()
	return metrics.Snapshot{
		Streams:        s.manager.Count(),
		RunningStreams: running,
		Clients:        clients,
		BytesRelayed:   bytesRelayed,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"streams": s.manager.Count(),
	})
}

func (s *Server) handleListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"streams": s.manager.AllInfo(),
	})
}

func (s *Server) handleCreateStream(c *gin.Context) {
	var def stream.Definition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := s.manager.Add(def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Persist the resolved definition so allocated ports and defaults
	// survive a restart.
	resolved, _ := s.manager.Definition(def.ID)
	if s.repo != nil {
		if err := s.repo.Save(resolved); err != nil {
			s.logger.Error("Failed to persist stream",
				zap.String("stream_id", def.ID),
				zap.Error(err),
			)
		}
	}

	info, _ := s.manager.Info(def.ID)
	c.JSON(http.StatusCreated, info)
}

func (s *Server) handleGetStream(c *gin.Context) {
	id := c.Param("id")

	info, ok := s.manager.Info(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	c.JSON(http.StatusOK, info)
}

func (s *Server) handleDeleteStream(c *gin.Context) {
	id := c.Param("id")

	if !s.manager.Remove(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	if s.repo != nil {
		if err := s.repo.Delete(id); err != nil && !errors.Is(err, database.ErrStreamNotFound) {
			s.logger.Error("Failed to delete persisted stream",
				zap.String("stream_id", id),
				zap.Error(err),
			)
		}
	}

	c.JSON(http.StatusOK, gin.H{"removed": id})
}

func (s *Server) handleStartStream(c *gin.Context) {
	id := c.Param("id")

	ok, err := s.manager.Start(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	info, _ := s.manager.Info(id)
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleStopStream(c *gin.Context) {
	id := c.Param("id")

	if !s.manager.Stop(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	info, _ := s.manager.Info(id)
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleStartAll(c *gin.Context) {
	s.manager.StartAll()
	c.JSON(http.StatusOK, gin.H{
		"streams": s.manager.AllInfo(),
	})
}

func (s *Server) handleStopAll(c *gin.Context) {
	s.manager.StopAll()
	c.JSON(http.StatusOK, gin.H{
		"streams": s.manager.AllInfo(),
	})
}

func (s *Server) handleWindow(c *gin.Context) {
	id := c.Param("id")

	if _, ok := s.manager.Definition(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	window, err := s.manager.Window(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "playlist not available"})
		return
	}

	c.JSON(http.StatusOK, window)
}

func (s *Server) handleProbe(c *gin.Context) {
	id := c.Param("id")

	def, ok := s.manager.Definition(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	result, err := s.prober.Describe(def.SourceURL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStats(c *gin.Context) {
	clients, bytesRelayed, running := s.manager.Totals()

	c.JSON(http.StatusOK, gin.H{
		"uptime":        time.Since(s.startedAt).Round(time.Second).String(),
		"streams":       s.manager.Count(),
		"running":       running,
		"clients":       clients,
		"bytes_relayed": bytesRelayed,
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
