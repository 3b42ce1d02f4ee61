package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

func idempotencyKeyFromHeader(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("Idempotency-Key"))
}

// idempotencyKey prefers the key sent in the body and falls back to the
// Idempotency-Key header.
func idempotencyKey(c *gin.Context, fromBody string) string {
	if key := strings.TrimSpace(fromBody); key != "" {
		return key
	}
	return idempotencyKeyFromHeader(c)
}
