package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) listBuses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"buses": s.registry.Status(),
	})
}

func (s *Server) getBus(c *gin.Context) {
	iface := c.Param("iface")

	status, ok := s.registry.StatusFor(iface)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "interface not managed: " + iface})
		return
	}

	c.JSON(http.StatusOK, status)
}

// forceShutdown is the emergency-stop path. It bypasses the reference count;
// co-tenants on the interface will see their next bus operation fail.
func (s *Server) forceShutdown(c *gin.Context) {
	iface := c.Param("iface")

	m, ok := s.registry.MasterFor(iface)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "interface not managed: " + iface})
		return
	}

	s.logger.Warn("Force shutdown requested via API",
		zap.String("interface", iface),
		zap.String("client_ip", c.ClientIP()))

	if err := s.registry.ForceShutdown(m); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "bus shut down", "interface": iface})
}
