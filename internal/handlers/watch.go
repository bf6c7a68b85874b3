package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/stackmelt/cargohold/internal/services"
)

// WatchHandler serves live job events over a websocket, for dashboards that
// keep one connection open across phases.
type WatchHandler struct {
	engine   *services.Engine
	upgrader websocket.Upgrader
}

// NewWatchHandler creates a WatchHandler.
func NewWatchHandler(engine *services.Engine) *WatchHandler {
	return &WatchHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type watchEvent struct {
	Event  string `json:"event"`
	Phase  string `json:"phase,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Watch upgrades to a websocket and forwards job events until completion.
// GET /api/jobs/:id/watch
func (h *WatchHandler) Watch(c *gin.Context) {
	id := c.Param("id")

	// Follow registers the subscription before checking terminal state, so a
	// job finishing right now is replayed instead of lost.
	ch, err := h.engine.Follow(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	defer h.engine.Unsubscribe(id, ch)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	writeEvent := func(ev watchEvent) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch {
			case strings.HasPrefix(msg, "phase:"):
				if !writeEvent(watchEvent{Event: "phase", Phase: strings.TrimPrefix(msg, "phase:")}) {
					return
				}
			case strings.HasPrefix(msg, "complete:"):
				status := strings.TrimPrefix(msg, "complete:")
				detail := ""
				if final, err := h.engine.GetJob(id); err == nil {
					status = string(final.Status)
					detail = final.Error
				}
				writeEvent(watchEvent{Event: "complete", Status: status, Error: detail})
				return
			}
		}
	}
}
