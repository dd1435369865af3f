// Package render writes server-sent events to gin responses.
package render

import (
	"encoding/json"
	"fmt"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
)

// ObjectData marshals v and writes it as a single SSE data record, flushing
// immediately so streaming clients see the chunk without delay.
func ObjectData(c *gin.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal sse object")
	}
	return StringData(c, string(data))
}

// StringData writes one raw SSE data record and flushes.
func StringData(c *gin.Context, data string) error {
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return errors.Wrap(err, "write sse data")
	}
	c.Writer.Flush()
	return nil
}

// Done terminates the canonical stream with the [DONE] sentinel.
func Done(c *gin.Context) {
	_ = StringData(c, "[DONE]")
}
