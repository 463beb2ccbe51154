// internal/handlers/duel_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulsefit/arena/internal/duel"
	"github.com/pulsefit/arena/internal/middleware"
)

// DuelWSHandler upgrades the connection to WebSocket and streams duel
// lifecycle events for one duel to a participant. The stream opens with the
// current snapshot so a late subscriber is never behind.
func DuelWSHandler(logger *logrus.Logger, resolver *duel.Resolver, feed *duel.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		duelID, err := uuid.Parse(r.URL.Query().Get("duel_id"))
		if err != nil {
			http.Error(w, "invalid duel_id", http.StatusBadRequest)
			return
		}
		userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
		if err != nil {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}

		snap, err := resolver.Get(r.Context(), duelID)
		if err != nil {
			writeError(w, err)
			return
		}
		if snap.Participants[0] != userID && snap.Participants[1] != userID {
			http.Error(w, "not a participant of this duel", http.StatusForbidden)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"duel"},
			OriginPatterns: []string{"*"}, // Adjust for production security.
		})
		if err != nil {
			logger.Warnf("WebSocket accept error for duel %s: %v", duelID, err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler exit")
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		events, unsubscribe := feed.Subscribe(duelID)
		defer unsubscribe()

		ctx := c.CloseRead(r.Context())

		if err := writeWS(ctx, c, map[string]interface{}{"type": "snapshot", "duel": snap}); err != nil {
			middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, nil)
				c.Close(websocket.StatusNormalClosure, "client closed")
				return
			case ev := <-events:
				if err := writeWS(ctx, c, ev); err != nil {
					middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
					return
				}
				if ev.State.Terminal() {
					c.Close(websocket.StatusNormalClosure, "duel finished")
					return
				}
			}
		}
	}
}

func writeWS(ctx context.Context, c *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.Write(wctx, websocket.MessageText, data)
}
