package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synod-run/synod/pkg/pipeline"
)

// streamEvents writes the spec's flat `data: <json>\n\n` envelope per
// event. gin-contrib/sse is not used: it escapes newlines per-field in a
// way that splits this envelope across multiple `data:` lines, which
// doesn't match what the wire protocol requires.
func streamEvents(c *gin.Context, events <-chan pipeline.Event) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)

	for {
		select {
		case e, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			if ok {
				flusher.Flush()
			}
		case <-c.Request.Context().Done():
			// The reader coroutine exits; the Scheduler keeps running
			// detached from this request's context (P7).
			return
		}
	}
}
