package api

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
)

// requireSecret guards every route except the health check. The
// comparison is constant time so the secret cannot be probed byte by
// byte. An empty configured secret disables authentication, for local
// development only.
func (s *Server) requireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.cfg.SharedSecret
		if secret == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-Auth-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(401, gin.H{"error": "unauthorized"})
			return
		}

		c.Next()
	}
}
