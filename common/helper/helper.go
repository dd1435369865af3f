// Package helper holds small shared utilities with no domain knowledge.
package helper

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GetTimestamp returns the current unix timestamp in seconds.
func GetTimestamp() int64 {
	return time.Now().Unix()
}

// GenRequestID returns a fresh opaque identifier for requests and tasks.
func GenRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenCallID returns an OpenAI-style tool call identifier.
func GenCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// ShortID truncates an identifier for logs and previews.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// RespondError writes the standard error envelope used by the admin API.
func RespondError(c *gin.Context, err error) {
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"message": err.Error(),
	})
}

// TruncateString cuts s to at most n runes, appending an ellipsis marker when
// anything was removed.
func TruncateString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
