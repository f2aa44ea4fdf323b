package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestID stamps every request with a correlation id: the inbound
// X-Request-Id header if the caller supplied one, otherwise a freshly
// generated UUID. The id is set on the gin context (key "request_id") and
// echoed back on the response so logs on both sides of the call can be
// joined.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}
