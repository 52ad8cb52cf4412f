package handlers

import (
	"net/http"
	"time"

	"github.com/antinvestor/service-checkout/apps/default/service/hub"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionEvents streams the events of one checkout to a websocket until
// either side hangs up.
func (cs *CheckoutServer) SessionEvents(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if _, err := cs.Checkout.Get(r.Context(), id); err != nil {
		cs.writeError(w, r, err)
		return
	}

	logger := cs.Service.L(r.Context()).WithField("type", "SessionEvents").WithField("session", id)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	client := cs.Hub.Subscribe(id)
	defer cs.Hub.Unsubscribe(client)

	logger.Debug("session watcher connected")

	go writePump(client, conn)
	readPump(conn)

	logger.Debug("session watcher disconnected")
}

func writePump(client *hub.Client, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are processed.
func readPump(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
