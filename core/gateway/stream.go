package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inactu/inactu-web/core/infra/logging"
	"github.com/inactu/inactu-web/core/logquery"
	"github.com/inactu/inactu-web/core/upstream"
)

const streamWriteTimeout = 10 * time.Second

// streamMessage is one websocket frame of the live log tail.
type streamMessage struct {
	Type       string                 `json:"type"`
	Entry      *logquery.Entry        `json:"entry,omitempty"`
	Transition *logquery.StatusChange `json:"transition,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// handleLogStream polls the newest page of a context's log and pushes entries
// not seen before, oldest first. The stream ends when the client goes away or
// the control plane rejects the request.
func (s *server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	f, err := logquery.ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f = f.FirstPage()
	id, user := r.PathValue("id"), UserID(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	s.streamMetrics.StreamOpened()
	defer s.streamMetrics.StreamClosed()

	// Hijacked connections are not closed by http.Server.Shutdown.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()
	defer func() {
		if s.baseCtx.Err() != nil {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteTimeout))
		}
	}()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var lastID int64
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		next, done := s.pollLogs(ctx, ws, user, id, f, lastID)
		if done {
			return
		}
		lastID = next
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollLogs sends entries newer than lastID and returns the new high-water
// mark. done is true when the stream must end.
func (s *server) pollLogs(ctx context.Context, ws *websocket.Conn, user, id string, f logquery.Filter, lastID int64) (int64, bool) {
	page, err := s.contexts.Page(ctx, user, id, f)
	if err != nil {
		if ctx.Err() != nil {
			return lastID, true
		}
		msg := streamMessage{Type: "error", Error: upstream.UnexpectedResponse}
		var statusErr *upstream.StatusError
		if errors.As(err, &statusErr) {
			msg.Error = statusErr.Response.ErrorMessage("Failed to load logs")
			if code := statusErr.Response.StatusCode; code >= 400 && code < 500 {
				_ = writeFrame(ws, msg)
				return lastID, true
			}
		}
		return lastID, writeFrame(ws, msg) != nil
	}

	high := lastID
	for i := len(page.Logs) - 1; i >= 0; i-- {
		entry := page.Logs[i]
		if entry.ID <= lastID {
			continue
		}
		msg := streamMessage{Type: "log", Entry: &entry}
		if sc, ok := entry.StatusChange(); ok {
			msg.Transition = &sc
		}
		if err := writeFrame(ws, msg); err != nil {
			return high, true
		}
		if entry.ID > high {
			high = entry.ID
		}
	}
	return high, false
}

func writeFrame(ws *websocket.Conn, msg streamMessage) error {
	_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return ws.WriteJSON(msg)
}
