package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/readiness"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "folio_user_id"

	serviceUnavailableCode = "ServiceUnavailable"
)

// corsMiddleware allows credentialed requests from the configured origins, or from any origin when
// none are configured.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

// requireReady refuses requests with 503 until the gate leaves Initializing.
func requireReady(gate *readiness.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if gate.IsReady() {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"code":    serviceUnavailableCode,
			"message": gate.Snapshot().Reason,
		})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Debug("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.users.ResolveUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("user resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
