package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDContextKey = "request_id"

// requestIDFromContext returns a stable per-request id, minting one when the
// caller did not supply X-Request-ID.
func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// auditUserID adapts the auth middleware's userID entry to the audit
// envelope's optional field.
func auditUserID(c *gin.Context) *int64 {
	userID := c.GetInt("userID")
	if userID == 0 {
		return nil
	}
	value := int64(userID)
	return &value
}
