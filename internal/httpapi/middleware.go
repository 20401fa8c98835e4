package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerNameAuthorization = "Authorization"
	bearerSchemePrefix      = "Bearer "

	errorValueAdminDisabled = "admin_disabled"
	errorValueMissingBearer = "missing_bearer"
	errorValueForbidden     = "forbidden"
)

// RequestLogger logs one structured line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(requestContext *gin.Context) {
		start := time.Now()
		requestContext.Next()
		logger.Info("http",
			zap.String("method", requestContext.Request.Method),
			zap.String("path", requestContext.Request.URL.Path),
			zap.Int("status", requestContext.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", requestContext.ClientIP()),
			zap.String("ua", requestContext.Request.UserAgent()),
		)
	}
}

// AdminAuthMiddleware gates admin routes behind a shared bearer token.
func AdminAuthMiddleware(adminBearerToken string) gin.HandlerFunc {
	return func(requestContext *gin.Context) {
		if adminBearerToken == "" {
			requestContext.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": errorValueAdminDisabled})
			return
		}
		authorizationHeader := strings.TrimSpace(requestContext.GetHeader(headerNameAuthorization))
		if !strings.HasPrefix(authorizationHeader, bearerSchemePrefix) {
			requestContext.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorValueMissingBearer})
			return
		}
		provided := strings.TrimPrefix(authorizationHeader, bearerSchemePrefix)
		if provided != adminBearerToken {
			requestContext.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errorValueForbidden})
			return
		}
		requestContext.Next()
	}
}
