// Package rest serves the diagnostics API: bus status snapshots, live
// websocket updates and the emergency force-shutdown path.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openfieldbus/ecatcore/internal/api/websocket"
	"github.com/openfieldbus/ecatcore/internal/config"
	"github.com/openfieldbus/ecatcore/internal/registry"
)

// statusInterval paces the websocket status broadcast. Diagnostics only;
// independent of any bus cycle time.
const statusInterval = time.Second

type Server struct {
	router   *gin.Engine
	registry *registry.Registry
	logger   *zap.Logger
	server   *http.Server
	wsHub    *websocket.Hub

	stopBroadcast chan struct{}
}

func NewServer(cfg *config.Config, reg *registry.Registry, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:        gin.New(),
		registry:      reg,
		logger:        logger,
		wsHub:         wsHub,
		stopBroadcast: make(chan struct{}),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting diagnostics API server", zap.String("address", s.server.Addr))

	go s.broadcastLoop()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("Diagnostics server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down diagnostics API server")
	close(s.stopBroadcast)
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		buses := v1.Group("/buses")
		{
			buses.GET("", s.listBuses)
			buses.GET("/:iface", s.getBus)
			buses.POST("/:iface/force-shutdown", s.forceShutdown)
		}

		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// broadcastLoop pushes periodic bus status snapshots to websocket clients.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopBroadcast:
			return
		case <-ticker.C:
			if s.wsHub.GetClientCount() == 0 {
				continue
			}
			s.wsHub.Broadcast(websocket.NewBusStatusMessage(s.registry.Status()))
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
