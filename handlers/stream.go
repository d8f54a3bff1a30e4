package handlers

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"taskplanner/models"
	"taskplanner/store"
	"taskplanner/utilities"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamMessage is one frame of the snapshot stream. Type is "snapshot"
// or "error".
type StreamMessage struct {
	Type     string        `json:"type"`
	Tasks    []models.Task `json:"tasks"`
	ReadTime *time.Time    `json:"read_time,omitempty"`
	Error    *ErrorBody    `json:"error,omitempty"`
}

func snapshotMessage(snap store.Snapshot) StreamMessage {
	tasks := snap.Tasks
	if tasks == nil {
		tasks = []models.Task{}
	}
	msg := StreamMessage{Type: "snapshot", Tasks: tasks}
	if !snap.ReadTime.IsZero() {
		readTime := snap.ReadTime
		msg.ReadTime = &readTime
	}
	return msg
}

func errorMessage(err error) StreamMessage {
	_, body := classify(err)
	return StreamMessage{Type: "error", Error: &body}
}

// StreamTasksHandler upgrades to a WebSocket and pushes the full, display
// ordered task list after every change. A read failure is sent as an error
// frame and the stream stays open.
func (h *TaskHandler) StreamTasksHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		utilities.LogError(err, "failed to upgrade task stream")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Snapshots only queue the latest frame; the writer loop below is the
	// single writer on conn.
	frames := make(chan StreamMessage, 1)
	offer := func(msg StreamMessage) {
		for {
			select {
			case frames <- msg:
				return
			default:
			}
			select {
			case <-frames:
			default:
			}
		}
	}

	sub, err := h.service.Subscribe(ctx, func(snap store.Snapshot, err error) {
		if err != nil {
			offer(errorMessage(err))
			return
		}
		offer(snapshotMessage(snap))
	})
	if err != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(errorMessage(err))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		return
	}
	defer sub.Unsubscribe()

	go readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case msg := <-frames:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				utilities.LogDebug("task stream closed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and cancels the stream once the client
// goes away.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
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
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
