package server

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
)

const headerInternalToken = "X-Internal-Token"

// InternalAuthRequired gates the internal API on a shared token. Decisions and
// billing triggers only ever arrive over the trusted channel; an empty
// configured token refuses everything.
func (s *Server) InternalAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.cfg.InternalToken
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		presented := c.GetHeader(headerInternalToken)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
