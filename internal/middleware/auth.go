// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"askto-go/pkg/log"
	"askto-go/pkg/token"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SessionAuthMiddleware 创建一个 Gin 中间件，用于会话令牌认证。
// 令牌必须绑定到路径中的 :sessionId，通过后 claims 存入上下文。
func SessionAuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权头"})
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的授权头格式"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		// 令牌只能用于签发它的会话
		if sessionID := c.Param("sessionId"); sessionID != "" && sessionID != claims.SessionID {
			log.Warnf("会话令牌与路径不匹配: token=%s path=%s", claims.SessionID, sessionID)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "令牌与会话不匹配"})
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}
