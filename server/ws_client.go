package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/jrsteele09/go-call-relay/sessions"
)

// wsClient is one upgraded connection. Frames for the client go through a
// bounded queue drained by writeLoop; readLoop feeds the relay.
type wsClient struct {
	conn    *websocket.Conn
	session *sessions.Session
	log     zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	pingInterval time.Duration
	writeTimeout time.Duration
}

// Send queues frame without blocking. It reports false when the queue is
// full or the connection is closing.
func (c *wsClient) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(c.writeTimeout))
			return
		}
	}
}

// readLoop returns when the peer goes away, the read deadline passes or the
// connection is closed locally.
func (c *wsClient) readLoop(handle func(frame []byte)) {
	pongWait := c.pingInterval + c.writeTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		handle(frame)
	}
}

// WebSocketHandler authenticates the handshake, upgrades it and admits the
// session to the relay for the lifetime of the connection.
func (s *Server) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r.Header)
		if err != nil {
			hlog.FromRequest(r).Info().Err(err).Msg("refused websocket handshake")
			writeJSONError(w, "unauthorized", err.Error(), http.StatusUnauthorized)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already answered the request.
			hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		conn.SetReadLimit(s.config.GetMaxMessageBytes())

		sess := sessions.New(userID)
		client := &wsClient{
			conn:         conn,
			session:      sess,
			log:          hlog.FromRequest(r).With().Str("user_id", userID).Str("session_id", sess.ID).Logger(),
			send:         make(chan []byte, s.config.GetSendQueueSize()),
			done:         make(chan struct{}),
			pingInterval: s.config.GetPingInterval(),
			writeTimeout: s.config.GetWriteTimeout(),
		}

		s.clientsWg.Add(1)
		defer s.clientsWg.Done()
		s.trackClient(client)
		defer s.untrackClient(client)

		ctx := context.WithoutCancel(r.Context())
		s.relay.Connect(ctx, sess, client)
		go client.writeLoop()

		client.readLoop(func(frame []byte) {
			s.relay.HandleFrame(ctx, sess, frame)
		})

		client.close()
		s.relay.Disconnect(ctx, sess)
	}
}
