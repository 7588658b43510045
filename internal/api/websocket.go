package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"ocr-task-server/internal/database"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from another origin during development
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressWebSocketHandler handles GET /ws/progress/:taskId
// The connection becomes the single progress subscriber of the task: it receives
// {task_id, progress} events and finally the terminal state, then the server closes it.
// A newer connection for the same task replaces this one.
func (h *Handlers) ProgressWebSocketHandler(c *gin.Context) {
	taskID := c.Param("taskId")

	if _, err := h.taskService.GetState(c.Request.Context(), taskID); err != nil && errors.Is(err, database.ErrTaskNotFound) {
		errorJSON(c, http.StatusNotFound, "task not found or state record missing")
		return
	}

	// Attach before the handshake completes so no event published after it is missed
	sub := h.hub.Attach(taskID)
	defer h.hub.Detach(taskID, sub)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WEBSOCKET] Task %s: failed to upgrade connection - %v", taskID, err)
		return
	}
	defer conn.Close()

	log.Printf("[WEBSOCKET] Task %s: subscriber connected from %s", taskID, c.ClientIP())

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
		log.Printf("[WEBSOCKET] Task %s: failed to set initial read deadline: %v", taskID, err)
		return
	}

	// The read loop only exists to notice disconnects and to process control frames
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				log.Printf("[WEBSOCKET] Task %s: subscription closed", taskID)
				closeConn(conn, "subscription replaced")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("[WEBSOCKET] Task %s: failed to send progress: %v", taskID, err)
				return
			}
			if event.Status.IsTerminal() {
				log.Printf("[WEBSOCKET] Task %s: final state %s sent", taskID, event.Status)
				closeConn(conn, "task "+string(event.Status))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				log.Printf("[WEBSOCKET] Task %s: ping failed: %v", taskID, err)
				return
			}
		case <-disconnected:
			log.Printf("[WEBSOCKET] Task %s: subscriber disconnected", taskID)
			return
		}
	}
}

func closeConn(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}
