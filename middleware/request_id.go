// Package middleware holds the gin handler-chain pieces shared by all routes.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/cheaprelay/cheaprelay/common/ctxkey"
	"github.com/cheaprelay/cheaprelay/common/helper"
)

// RequestID assigns every request an opaque id, reused by the pipeline for
// its audit trail and echoed in the x-request-id header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = helper.GenRequestID()
		}
		c.Set(ctxkey.RequestID, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}
