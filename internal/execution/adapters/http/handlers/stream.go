package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/internal/execution/app/tracker"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is one frame on the run stream.
type StreamMessage struct {
	Type       string              `json:"type"`
	Run        *workflow.RunDetail `json:"run,omitempty"`
	Transition *tracker.Transition `json:"transition,omitempty"`
}

// StreamRun sends a snapshot of the run, then every transition until the
// run is finalized. Finished runs get the snapshot and a close frame.
func (h *RunHandlers) StreamRun(c *gin.Context) {
	id := c.Param("id")

	// Subscribe before reading the snapshot so no transition falls in between.
	updates, stop, live := h.service.Watch(id)
	if live {
		defer stop()
	}

	detail, err := h.service.GetRun(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", "runId", id, "error", err)
		return
	}
	defer conn.Close()

	if err := h.write(conn, StreamMessage{Type: "snapshot", Run: detail}); err != nil {
		return
	}
	if !live {
		h.closeStream(conn)
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case tr, ok := <-updates:
			if !ok {
				h.closeStream(conn)
				return
			}
			if err := h.write(conn, StreamMessage{Type: "transition", Transition: &tr}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *RunHandlers) write(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("WebSocket write failed", "error", err)
		return err
	}
	return nil
}

func (h *RunHandlers) closeStream(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finalized"))
}
