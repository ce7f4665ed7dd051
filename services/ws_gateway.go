package services

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/gridwatt/smart-meter-server/database"
	"github.com/gridwatt/smart-meter-server/protocol"
)

// WSGateway accepts meters over websocket instead of raw TCP. Each binary
// websocket message carries one protocol payload; the websocket frame plays
// the role of the length prefix. Sessions behave identically to TCP ones.
type WSGateway struct {
	upgrader websocket.Upgrader
	alerts   *AlertStore
	db       database.Store
	cfg      SessionConfig
}

func NewWSGateway(alerts *AlertStore, db database.Store, cfg SessionConfig) *WSGateway {
	return &WSGateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Meters are headless devices; no browser origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		alerts: alerts,
		db:     db,
		cfg:    cfg,
	}
}

// ServeHTTP upgrades the request and runs a full meter session on it.
func (gw *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Error("websocket upgrade failed")
		return
	}

	log.WithField("remote", conn.RemoteAddr().String()).Debug("new websocket meter connected")
	session := NewSession(newWSTransport(conn), gw.alerts, gw.db, gw.cfg)
	go func() {
		if err := session.Run(); err != nil {
			log.WithError(err).Error("websocket session failed")
		}
	}()
}

// wsTransport adapts a websocket connection to the protocol.Transport the
// session engine consumes.
type wsTransport struct {
	conn *websocket.Conn
}

var _ protocol.Transport = (*wsTransport)(nil)

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	for {
		messageType, payload, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// Meters send binary frames; tolerate text for hand-rolled test
		// clients, skip everything else (pings are handled by gorilla).
		if messageType == websocket.BinaryMessage || messageType == websocket.TextMessage {
			return payload, nil
		}
	}
}

func (t *wsTransport) WriteFrame(payload []byte, timeout time.Duration) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (t *wsTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
