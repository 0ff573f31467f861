package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"presence-service/internal/identity"
	"presence-service/internal/repositories"
)

// Auth validates the Authorization header and resolves the stable identity to
// a directory row. HTTP routes do not degrade the way the websocket handshake
// does: an unresolvable identity cannot send, so the request is rejected.
func Auth(verifier identity.Verifier, directory repositories.UserDirectory) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		stableID, err := verifier.Verify(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		user, err := directory.ResolveStableID(c.Request.Context(), stableID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown identity"})
			return
		}

		c.Set("userID", user.ID)
		c.Set("stableID", stableID)
		c.Next()
	}
}
