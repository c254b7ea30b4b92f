package ws

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"roomchat/internal/access"
	"roomchat/internal/metrics"
	"roomchat/internal/models"
	"roomchat/internal/service"

	"github.com/rs/zerolog/log"
)

// Messages is the part of the message store the gateway writes through.
type Messages interface {
	SendText(ctx context.Context, author models.User, roomID uint, content string) (*models.Message, error)
	Upload(ctx context.Context, author models.User, roomID uint, filename string, r io.Reader, size int64) (*models.Message, error)
}

// Rooms resolves room ids for join requests.
type Rooms interface {
	Get(ctx context.Context, id uint) (*models.Room, error)
}

// Users reloads the account behind a connection.
type Users interface {
	Get(ctx context.Context, id uint) (*models.User, error)
}

// Gateway turns inbound frames into store writes and hub broadcasts.
type Gateway struct {
	hub       *Hub
	users     Users
	msgs      Messages
	rooms     Rooms
	maxUpload int64
	origins   []string
}

func NewGateway(h *Hub, users Users, msgs Messages, rooms Rooms, maxUpload int64, origins []string) *Gateway {
	return &Gateway{hub: h, users: users, msgs: msgs, rooms: rooms, maxUpload: maxUpload, origins: origins}
}

func (g *Gateway) Hub() *Hub { return g.hub }

// readLimit leaves room for a base64 encoded attachment plus its envelope.
func (g *Gateway) readLimit() int64 {
	return int64(base64.StdEncoding.EncodedLen(int(g.maxUpload))) + 64<<10
}

// Dispatch handles one inbound frame from c. Anything malformed or refused is
// dropped without a reply.
func (g *Gateway) Dispatch(ctx context.Context, c *Client, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Debug().Err(err).Str("user", c.user.Username).Msg("ws malformed frame")
		return
	}
	var err error
	switch env.Event {
	case EventLeaveRoom:
		err = g.leaveRoom(c, env.Data)
	case EventJoinRoom, EventSendMessage, EventSendFile:
		var author *models.User
		if author, err = g.author(ctx, c); err != nil {
			break
		}
		switch env.Event {
		case EventJoinRoom:
			err = g.joinRoom(ctx, c, env.Data)
		case EventSendMessage:
			err = g.sendMessage(ctx, *author, env.Data)
		case EventSendFile:
			err = g.sendFile(ctx, *author, env.Data)
		}
	default:
		log.Debug().Str("event", env.Event).Str("user", c.user.Username).Msg("ws unknown event")
		return
	}
	if err != nil {
		log.Debug().Err(err).Str("event", env.Event).Str("user", c.user.Username).Msg("ws event ignored")
	}
}

// author reloads the connection's account. Accounts deleted or deactivated
// since the socket opened are disconnected.
func (g *Gateway) author(ctx context.Context, c *Client) (*models.User, error) {
	u, err := g.users.Get(ctx, c.user.ID)
	switch {
	case errors.Is(err, service.ErrNotFound):
	case err != nil:
		return nil, err
	case access.IsActiveMember(*u):
		return u, nil
	}
	log.Info().Str("user", c.user.Username).Msg("ws closing connection of disabled account")
	g.hub.Unregister(c)
	return nil, service.ErrForbidden
}

func (g *Gateway) joinRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if _, err := g.rooms.Get(ctx, uint(p.RoomID)); err != nil {
		return err
	}
	g.hub.Join(c, uint(p.RoomID))
	return nil
}

func (g *Gateway) leaveRoom(c *Client, data json.RawMessage) error {
	var p roomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	g.hub.Leave(c, uint(p.RoomID))
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, author models.User, data json.RawMessage) error {
	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	msg, err := g.msgs.SendText(ctx, author, uint(p.RoomID), p.Content)
	if err != nil {
		return err
	}
	metrics.MessageStored(false, "ws")
	g.hub.Announce(author, msg)
	return nil
}

func (g *Gateway) sendFile(ctx context.Context, author models.User, data json.RawMessage) error {
	var p filePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	encoded := p.FileData
	// Data URLs carry a "data:<mime>;base64," prefix.
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+1:]
	}
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > g.maxUpload+2 {
		metrics.UploadsRejected.WithLabelValues("too_large").Inc()
		return service.ErrPayloadTooLarge
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		metrics.UploadsRejected.WithLabelValues("bad_encoding").Inc()
		return err
	}
	msg, err := g.msgs.Upload(ctx, author, uint(p.RoomID), p.Filename, bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		metrics.UploadsRejected.WithLabelValues(RejectReason(err)).Inc()
		return err
	}
	metrics.MessageStored(true, "ws")
	g.hub.Announce(author, msg)
	return nil
}

// RejectReason labels a failed upload for the rejected uploads counter.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, service.ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, service.ErrInvalidUpload):
		return "invalid"
	case errors.Is(err, service.ErrNotFound):
		return "unknown_room"
	case errors.Is(err, service.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
