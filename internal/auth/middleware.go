package auth

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/doc-forge/internal/logger"
)

const realm = `Basic realm="doc-forge"`

// RequireAuth は Basic 認証を検証するミドルウェアを返します。
// 認証情報が未設定の場合は何もしません。
func (m *Manager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		client := c.ClientIP()
		if retryAfter := m.checkLock(client); retryAfter > 0 {
			// Retry-After は秒数で返す
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "TOO_MANY_ATTEMPTS",
				"message": "一定時間後に再度お試しください",
			})
			return
		}

		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", realm)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "認証が必要です",
			})
			return
		}

		if !m.verify(username, password) {
			remaining := m.recordFailure(client)
			logger.Warn.Printf("authentication failed: client=%s user=%s remaining=%d", client, logger.SanitizeForLog(username), remaining)
			c.Header("WWW-Authenticate", realm)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":              "INVALID_CREDENTIALS",
				"message":           "ユーザー名またはパスワードが正しくありません",
				"remainingAttempts": remaining,
			})
			return
		}

		m.resetAttempts(client)
		c.Set(ContextUserKey, username)
		c.Next()
	}
}
