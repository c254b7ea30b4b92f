package ws

import (
	"context"

	"roomchat/internal/metrics"
	"roomchat/internal/models"
	"roomchat/internal/presence"

	"github.com/rs/zerolog/log"
)

type subscription struct {
	client *Client
	roomID uint
	join   bool
}

type broadcast struct {
	roomID  uint
	all     bool
	payload []byte
}

// Hub owns every live connection and its room subscriptions. All state is
// touched only by the Run goroutine.
type Hub struct {
	presence *presence.Tracker
	scoped   bool

	clients    map[*Client]map[uint]struct{}
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	broadcast  chan broadcast
	done       chan struct{}
}

// NewHub returns a hub reporting presence to tracker. When scoped is false
// chat events reach every client regardless of room subscriptions.
func NewHub(tracker *presence.Tracker, scoped bool) *Hub {
	return &Hub{
		presence:   tracker,
		scoped:     scoped,
		clients:    make(map[*Client]map[uint]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan broadcast, 256),
		done:       make(chan struct{}),
	}
}

// Online returns the sorted usernames currently connected.
func (h *Hub) Online() []string { return h.presence.Online() }

// Run processes hub events until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.detach(c)
			}
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case s := <-h.subscribe:
			subs, ok := h.clients[s.client]
			if !ok {
				continue
			}
			if s.join {
				subs[s.roomID] = struct{}{}
			} else {
				delete(subs, s.roomID)
			}
		case b := <-h.broadcast:
			h.fanout(b)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.clients[c] = make(map[uint]struct{})
	metrics.WsConnections.Inc()
	joined, online := h.presence.Connect(c.user.Username)
	metrics.OnlineUsers.Set(float64(len(online)))
	log.Debug().Str("user", c.user.Username).Bool("first", joined).Msg("ws connected")
	if !joined {
		// Another tab of a user already online: only the newcomer needs the list.
		if b, err := userListEvent(online); err == nil {
			h.deliver(c, b)
		}
		return
	}
	h.announcePresence(online, connectedNotice, c.user.Username)
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	if left, online := h.detach(c); left {
		h.announcePresence(online, disconnectedNotice, c.user.Username)
	}
}

func (h *Hub) detach(c *Client) (bool, []string) {
	delete(h.clients, c)
	left, online := h.presence.Disconnect(c.user.Username)
	metrics.WsConnections.Dec()
	metrics.OnlineUsers.Set(float64(len(online)))
	close(c.send)
	log.Debug().Str("user", c.user.Username).Bool("last", left).Msg("ws disconnected")
	return left, online
}

func (h *Hub) announcePresence(online []string, notice func(string) ([]byte, error), username string) {
	if b, err := userListEvent(online); err == nil {
		h.fanout(broadcast{all: true, payload: b})
	}
	if b, err := notice(username); err == nil {
		h.fanout(broadcast{all: true, payload: b})
	}
}

// deliver queues payload for c, dropping the client if its buffer is full.
func (h *Hub) deliver(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		log.Warn().Str("user", c.user.Username).Msg("ws send buffer full, dropping client")
		h.remove(c)
	}
}

func (h *Hub) fanout(b broadcast) {
	targets := make([]*Client, 0, len(h.clients))
	for c, subs := range h.clients {
		if !b.all && h.scoped {
			if _, ok := subs[b.roomID]; !ok {
				continue
			}
		}
		targets = append(targets, c)
	}
	for _, c := range targets {
		if _, ok := h.clients[c]; ok {
			h.deliver(c, b.payload)
		}
	}
}

func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Join subscribes c to room events.
func (h *Hub) Join(c *Client, roomID uint) {
	select {
	case h.subscribe <- subscription{client: c, roomID: roomID, join: true}:
	case <-h.done:
	}
}

func (h *Hub) Leave(c *Client, roomID uint) {
	select {
	case h.subscribe <- subscription{client: c, roomID: roomID}:
	case <-h.done:
	}
}

// Publish sends a room event to the room's subscribers, or to everyone when
// the hub is not room scoped.
func (h *Hub) Publish(roomID uint, payload []byte) {
	select {
	case h.broadcast <- broadcast{roomID: roomID, payload: payload}:
	case <-h.done:
	}
}

// Announce publishes msg as a receive_message or receive_file event.
func (h *Hub) Announce(author models.User, msg *models.Message) {
	b, err := MessageEvent(author, msg)
	if err != nil {
		log.Error().Err(err).Uint("message_id", msg.ID).Msg("encode message event")
		return
	}
	h.Publish(msg.RoomID, b)
}
