package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const defaultReadLimit = 1 << 20

// Handler consumes decoded client events. HandleEvent runs on the
// connection's read goroutine, so long work must be dispatched elsewhere.
type Handler interface {
	HandleEvent(ctx context.Context, conn *Conn, env Envelope)

	// ConnectionClosed is called after the connection has been removed from
	// the hub.
	ConnectionClosed(connID string)
}

// ServerConfig tunes the WebSocket accept path.
type ServerConfig struct {
	// ReadLimit caps a single inbound frame in bytes. Default 1 MiB, sized
	// for base64 screenshot payloads.
	ReadLimit int64

	// OriginPatterns is passed through to the WebSocket accept options.
	// Empty means same-origin only.
	OriginPatterns []string
}

// Server upgrades HTTP requests to WebSocket connections and pumps their
// events into the [Handler].
type Server struct {
	hub     *Hub
	handler Handler
	cfg     ServerConfig
}

// NewServer creates a [Server] bound to hub and handler.
func NewServer(hub *Hub, handler Handler, cfg ServerConfig) *Server {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &Server{hub: hub, handler: handler, cfg: cfg}
}

// ServeHTTP accepts the WebSocket upgrade and runs the connection's read loop
// until the client disconnects or the request context ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		slog.Debug("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	sock.SetReadLimit(s.cfg.ReadLimit)

	ctx := r.Context()
	conn := newConn(uuid.NewString(), sock)
	conn.start(ctx)
	s.hub.register(conn)
	slog.Info("connection opened", "conn_id", conn.id, "remote", r.RemoteAddr)

	defer func() {
		s.hub.unregister(conn.id)
		s.handler.ConnectionClosed(conn.id)
		conn.Close(websocket.StatusNormalClosure, "")
		slog.Info("connection closed", "conn_id", conn.id)
	}()

	for {
		typ, data, err := sock.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				slog.Debug("connection closed by peer",
					"conn_id", conn.id, "status", status)
			} else {
				slog.Debug("read failed", "conn_id", conn.id, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			conn.Send(ErrorEnvelope("binary frames are not supported"))
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			conn.Send(ErrorEnvelope("malformed event"))
			continue
		}
		s.handler.HandleEvent(ctx, conn, env)
	}
}
