package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"roomchat/internal/metrics"
	"roomchat/internal/service"
	"roomchat/internal/ws"

	"github.com/gin-gonic/gin"
)

// multipartSlack covers the multipart framing around the file part.
const multipartSlack = 1 << 20

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListWithUnread(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, "list rooms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "online_users": h.hub.Online()})
}

type roomForm struct {
	Name string `json:"name" form:"name"`
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req roomForm
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.rooms.Create(c.Request.Context(), currentUser(c), req.Name)
	if err != nil {
		fail(c, "create room", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": service.RoomDTO{ID: room.ID, Name: room.Name}, "notice": "room " + room.Name + " created"})
}

func (h *Handler) RenameRoom(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req roomForm
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	room, err := h.rooms.Rename(c.Request.Context(), currentUser(c), id, req.Name)
	if err != nil {
		fail(c, "rename room", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": service.RoomDTO{ID: room.ID, Name: room.Name}, "notice": "room renamed"})
}

func (h *Handler) DeleteRoom(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	room, err := h.rooms.Delete(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, "delete room", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notice": "room " + room.Name + " deleted"})
}

// Room opens a room: everything others wrote there becomes read, and the
// full history comes back newest first.
func (h *Handler) Room(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	room, err := h.rooms.Get(ctx, id)
	if err != nil {
		fail(c, "get room", err)
		return
	}
	user := currentUser(c)
	marked, err := h.msgs.MarkRoomRead(ctx, room.ID, user.ID)
	if err != nil {
		fail(c, "mark room read", err)
		return
	}
	history, err := h.msgs.History(ctx, room.ID)
	if err != nil {
		fail(c, "room history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room":         service.RoomDTO{ID: room.ID, Name: room.Name},
		"messages":     history,
		"marked_read":  marked,
		"online_users": h.hub.Online(),
	})
}

// Messages pages through a room oldest first; before_id walks backwards.
func (h *Handler) Messages(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.rooms.Get(ctx, id); err != nil {
		fail(c, "get room", err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	var before uint
	if s := c.Query("before_id"); s != "" {
		if b, err := strconv.ParseUint(s, 10, 64); err == nil {
			before = uint(b)
		}
	}
	msgs, err := h.msgs.Chronological(ctx, id, limit, before)
	if err != nil {
		fail(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Upload stores a multipart "file" as a message in the room and announces
// it to connected clients.
func (h *Handler) Upload(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit := h.msgs.Files().MaxBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			metrics.UploadsRejected.WithLabelValues("too_large").Inc()
			fail(c, "upload", service.ErrPayloadTooLarge)
			return
		}
		metrics.UploadsRejected.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, "upload open", err)
		return
	}
	defer f.Close()

	user := currentUser(c)
	msg, err := h.msgs.Upload(c.Request.Context(), user, id, fh.Filename, f, fh.Size)
	if err != nil {
		metrics.UploadsRejected.WithLabelValues(ws.RejectReason(err)).Inc()
		fail(c, "upload", err)
		return
	}
	metrics.MessageStored(true, "http")
	h.hub.Announce(user, msg)
	c.JSON(http.StatusCreated, gin.H{
		"id":        msg.ID,
		"room_id":   msg.RoomID,
		"file_path": *msg.FilePath,
		"ext":       service.Extension(*msg.FilePath),
		"notice":    "file uploaded",
	})
}
