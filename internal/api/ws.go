package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/auracap/internal/relay"
	"github.com/dgnsrekt/auracap/internal/types"
)

// wsRequest is one inbound frame on the message channel.
type wsRequest struct {
	RequestID string          `json:"requestId"`
	TabID     string          `json:"tabId,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// wsReply answers a wsRequest.
type wsReply struct {
	RequestID string `json:"requestId,omitempty"`
	types.Response
}

// wsEvent carries a broker event.
type wsEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsConn struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteServerText(c.conn, data)
}

// wsHandler serves the WebSocket message channel. Requests are dispatched
// concurrently and answered in completion order, keyed by requestId. With
// ?feeds=calls,settings the connection also receives broker events.
func wsHandler(dispatcher Dispatcher, broker *relay.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feeds := r.URL.Query().Get("feeds")

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("ws upgrade failed", "error", err)
			return
		}
		c := &wsConn{conn: conn}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
		defer cancel()

		if feeds != "" && broker != nil {
			go forwardEvents(ctx, c, broker, feeds)
		}

		var wg sync.WaitGroup
		defer wg.Wait()
		for {
			data, op, err := wsutil.ReadClientData(conn)
			if err != nil {
				slog.Debug("ws read loop exit", "error", err)
				return
			}
			if op != ws.OpText {
				continue
			}

			var req wsRequest
			if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.Type) == "" {
				reply := wsReply{Response: types.Failure(types.NewError(types.CodeValidation, "invalid message frame", err))}
				if err := c.send(reply); err != nil {
					return
				}
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := dispatcher.Dispatch(ctx, strings.TrimSpace(req.TabID), types.Message{Type: req.Type, Payload: req.Payload})
				if err := c.send(wsReply{RequestID: req.RequestID, Response: resp}); err != nil {
					slog.Debug("ws reply failed", "request_id", req.RequestID, "error", err)
				}
			}()
		}
	}
}

func forwardEvents(ctx context.Context, c *wsConn, broker *relay.Broker, feeds string) {
	wanted := make(map[string]bool)
	for _, f := range strings.Split(feeds, ",") {
		if f = strings.TrimSpace(f); f != "" {
			wanted[f] = true
		}
	}

	id, ch := broker.Subscribe()
	defer broker.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !wanted[evt.Feed] {
				continue
			}
			if err := c.send(wsEvent{Event: evt.Feed, Data: json.RawMessage(evt.Payload)}); err != nil {
				return
			}
		}
	}
}
