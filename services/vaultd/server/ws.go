package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"cdpchain/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBufferSize   = 256
)

type streamedEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	SentAt     int64             `json:"sentAt"`
}

// handleEventsWS streams live engine events. The optional type query
// parameter restricts the stream to a comma separated set of event types.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	filter := map[string]struct{}{}
	for _, kind := range strings.Split(r.URL.Query().Get("type"), ",") {
		if kind = strings.TrimSpace(kind); kind != "" {
			filter[kind] = struct{}{}
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := s.deps.Bus.Subscribe(wsBufferSize)
	defer sub.Close()

	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, sub, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, sub *events.Subscription, filter map[string]struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			rendered := events.Render(evt)
			if rendered == nil {
				continue
			}
			if len(filter) > 0 {
				if _, wanted := filter[rendered.Type]; !wanted {
					continue
				}
			}
			if err := writeEvent(ctx, conn, streamedEvent{
				Type:       rendered.Type,
				Attributes: rendered.Attributes,
				SentAt:     time.Now().Unix(),
			}); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, payload streamedEvent) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
