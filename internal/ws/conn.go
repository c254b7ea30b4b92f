package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/models"
	"roomchat/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Client is one websocket connection of a signed-in user.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	user models.User
}

// NewClient returns a client without a network connection. The server wires
// conn itself; tests read frames straight from Frames.
func NewClient(h *Hub, user models.User) *Client {
	return &Client{hub: h, send: make(chan []byte, sendBuffer), user: user}
}

func (c *Client) User() models.User { return c.user }

// Frames exposes the outbound queue. It is closed when the hub drops the client.
func (c *Client) Frames() <-chan []byte { return c.send }

func newUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return mw.OriginAllowed(r.Header.Get("Origin"), r.Host, origins)
		},
	}
}

// Serve upgrades authenticated requests and runs the connection until it
// closes. Requests without a valid session never reach the hub.
func Serve(gw *Gateway, sessions *auth.Sessions) gin.HandlerFunc {
	upgrader := newUpgrader(gw.origins)
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		user, err := sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrNoSession) && !errors.Is(err, auth.ErrInvalidSession) {
				log.Error().Err(err).Msg("ws session lookup")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("ws upgrade")
			return
		}
		client := NewClient(gw.hub, *user)
		client.conn = conn
		if !gw.hub.Register(client) {
			_ = conn.Close()
			return
		}
		go client.writePump()
		client.readPump(gw)
	}
}

func (c *Client) readPump(gw *Gateway) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(gw.readLimit())
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user", c.user.Username).Msg("ws read")
			}
			return
		}
		gw.Dispatch(context.Background(), c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
