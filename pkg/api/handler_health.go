package api

import "github.com/gin-gonic/gin"

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	jsonOK(c, gin.H{"ok": true})
}
