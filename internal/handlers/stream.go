package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stackmelt/cargohold/internal/services"
)

// StreamHandler serves live job events over SSE.
type StreamHandler struct {
	engine *services.Engine
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(engine *services.Engine) *StreamHandler {
	return &StreamHandler{engine: engine}
}

// Stream emits "phase" events while the job runs and a final "complete"
// event. A job already terminal replays its final state immediately.
// GET /api/jobs/:id/stream
func (h *StreamHandler) Stream(c *gin.Context) {
	id := c.Param("id")

	// Follow registers the subscription before checking terminal state, so a
	// job finishing right now is replayed instead of lost.
	ch, err := h.engine.Follow(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	defer h.engine.Unsubscribe(id, ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			switch {
			case strings.HasPrefix(msg, "phase:"):
				_, _ = fmt.Fprintf(w, "event: phase\ndata: %s\n\n", strings.TrimPrefix(msg, "phase:"))
				return true
			case strings.HasPrefix(msg, "complete:"):
				// Reload so the client sees the final error detail too.
				final, err := h.engine.GetJob(id)
				status := strings.TrimPrefix(msg, "complete:")
				detail := ""
				if err == nil {
					status = string(final.Status)
					detail = final.Error
				}
				_, _ = fmt.Fprintf(w, "event: complete\ndata: {\"status\": %q, \"error\": %q}\n\n", status, detail)
				return false
			}
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
