package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"roomchat/internal/models"
	"roomchat/internal/service"
)

// Client to server events.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventSendFile    = "send_file"
)

// Server to client events.
const (
	EventUserList       = "update_user_list"
	EventSystemMessage  = "system_message"
	EventReceiveMessage = "receive_message"
	EventReceiveFile    = "receive_file"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RoomID accepts both 3 and "3" on the wire, since browsers often send ids
// read from the DOM as strings.
type RoomID uint

func (r *RoomID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("room_id: %w", err)
	}
	*r = RoomID(n)
	return nil
}

type roomPayload struct {
	RoomID RoomID `json:"room_id"`
}

type messagePayload struct {
	RoomID  RoomID `json:"room_id"`
	Content string `json:"content"`
}

type filePayload struct {
	RoomID   RoomID `json:"room_id"`
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type SystemNotice struct {
	Text string `json:"text"`
}

type ReceivedMessage struct {
	User      string `json:"user"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	RoomID    uint   `json:"room_id"`
	UserID    uint   `json:"user_id"`
}

type ReceivedFile struct {
	User      string `json:"user"`
	RoomID    uint   `json:"room_id"`
	Timestamp string `json:"timestamp"`
	FilePath  string `json:"file_path"`
	Ext       string `json:"ext"`
}

func encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func userListEvent(online []string) ([]byte, error) {
	if online == nil {
		online = []string{}
	}
	return encode(EventUserList, online)
}

func connectedNotice(username string) ([]byte, error) {
	return encode(EventSystemMessage, SystemNotice{Text: fmt.Sprintf("✅ %s s’est connecté", username)})
}

func disconnectedNotice(username string) ([]byte, error) {
	return encode(EventSystemMessage, SystemNotice{Text: fmt.Sprintf("❌ %s s’est déconnecté", username)})
}

// MessageEvent builds the receive_message or receive_file frame announcing msg.
func MessageEvent(author models.User, msg *models.Message) ([]byte, error) {
	ts := msg.Timestamp.UTC().Format(service.DisplayTimeFormat)
	if msg.FilePath != nil {
		return encode(EventReceiveFile, ReceivedFile{
			User:      author.Username,
			RoomID:    msg.RoomID,
			Timestamp: ts,
			FilePath:  *msg.FilePath,
			Ext:       service.Extension(*msg.FilePath),
		})
	}
	var content string
	if msg.Content != nil {
		content = *msg.Content
	}
	return encode(EventReceiveMessage, ReceivedMessage{
		User:      author.Username,
		Content:   content,
		Timestamp: ts,
		RoomID:    msg.RoomID,
		UserID:    author.ID,
	})
}
