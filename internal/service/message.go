package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"roomchat/internal/access"
	"roomchat/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DisplayTimeFormat renders message timestamps as day/month hour:minute.
const DisplayTimeFormat = "02/01 15:04"

// MessageService owns message history, read flags and attachments.
type MessageService struct {
	db    *gorm.DB
	files *FileStore
	now   func() time.Time
}

func NewMessageService(db *gorm.DB, files *FileStore) *MessageService {
	return &MessageService{db: db, files: files, now: func() time.Time { return time.Now().UTC() }}
}

func (s *MessageService) Files() *FileStore { return s.files }

// MessageDTO is a message joined with its author name.
type MessageDTO struct {
	ID        uint      `json:"id"`
	RoomID    uint      `json:"room_id"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Content   *string   `json:"content"`
	FilePath  *string   `json:"file_path"`
	Ext       string    `json:"ext,omitempty"`
	IsRead    bool      `json:"is_read"`
	Timestamp time.Time `json:"timestamp"`
	Display   string    `json:"timestamp_display"`
}

// History returns every message of the room, newest first.
func (s *MessageService) History(ctx context.Context, roomID uint) ([]MessageDTO, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).
		Order("timestamp desc").Order("id desc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return s.toDTOs(ctx, msgs)
}

// Chronological pages through a room oldest first. beforeID, when non-zero,
// restricts the page to messages older than that id.
func (s *MessageService) Chronological(ctx context.Context, roomID uint, limit int, beforeID uint) ([]MessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("timestamp desc").Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return s.toDTOs(ctx, msgs)
}

// Latest returns the n most recent messages across all rooms.
func (s *MessageService) Latest(ctx context.Context, n int) ([]MessageDTO, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Order("timestamp desc").Order("id desc").Limit(n).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return s.toDTOs(ctx, msgs)
}

// SendText stores a text message from author in the room.
func (s *MessageService) SendText(ctx context.Context, author models.User, roomID uint, content string) (*models.Message, error) {
	if !access.Allow(author, access.PostMessage) {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	return s.create(ctx, models.Message{Content: &content, UserID: author.ID, RoomID: roomID})
}

// SendFile stores a file message pointing at an already saved attachment.
func (s *MessageService) SendFile(ctx context.Context, author models.User, roomID uint, storedPath string) (*models.Message, error) {
	if !access.Allow(author, access.UploadFile) {
		return nil, ErrForbidden
	}
	if storedPath == "" {
		return nil, fmt.Errorf("%w: missing file", ErrInvalidUpload)
	}
	return s.create(ctx, models.Message{FilePath: &storedPath, UserID: author.ID, RoomID: roomID})
}

// Upload validates, saves and records an attachment in one step. The saved
// file is removed again if the message cannot be written.
func (s *MessageService) Upload(ctx context.Context, author models.User, roomID uint, filename string, r io.Reader, size int64) (*models.Message, error) {
	if !access.Allow(author, access.UploadFile) {
		return nil, ErrForbidden
	}
	if _, err := s.files.Check(filename, size); err != nil {
		return nil, err
	}
	if err := s.roomExists(ctx, s.db, roomID); err != nil {
		return nil, err
	}
	stored, err := s.files.Save(filename, r, size)
	if err != nil {
		return nil, err
	}
	msg, err := s.SendFile(ctx, author, roomID, stored)
	if err != nil {
		if rmErr := s.files.Remove(stored); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", stored).Msg("remove orphaned upload")
		}
		return nil, err
	}
	return msg, nil
}

func (s *MessageService) create(ctx context.Context, msg models.Message) (*models.Message, error) {
	msg.Timestamp = s.now()
	msg.IsRead = false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.roomExists(ctx, tx, msg.RoomID); err != nil {
			return err
		}
		return tx.Create(&msg).Error
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MessageService) roomExists(ctx context.Context, db *gorm.DB, roomID uint) error {
	var room models.Room
	if err := db.WithContext(ctx).Select("id").First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	return nil
}

// MarkRoomRead flags every message in the room not written by readerID as read.
func (s *MessageService) MarkRoomRead(ctx context.Context, roomID, readerID uint) (int64, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("room_id = ? AND is_read = ? AND user_id <> ?", roomID, false, readerID).
			Update("is_read", true)
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// UnreadCount counts unread messages in the room written by someone other than viewerID.
func (s *MessageService) UnreadCount(ctx context.Context, roomID, viewerID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("room_id = ? AND is_read = ? AND user_id <> ?", roomID, false, viewerID).
		Count(&n).Error
	return n, err
}

// UnreadCounts is UnreadCount for every room at once. Rooms without unread
// messages are absent from the map.
func (s *MessageService) UnreadCounts(ctx context.Context, viewerID uint) (map[uint]int64, error) {
	return unreadCounts(s.db.WithContext(ctx), viewerID)
}

func unreadCounts(db *gorm.DB, viewerID uint) (map[uint]int64, error) {
	var rows []struct {
		RoomID uint
		N      int64
	}
	err := db.Model(&models.Message{}).
		Select("room_id, COUNT(*) AS n").
		Where("is_read = ? AND user_id <> ?", false, viewerID).
		Group("room_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint]int64, len(rows))
	for _, r := range rows {
		out[r.RoomID] = r.N
	}
	return out, nil
}

func (s *MessageService) toDTOs(ctx context.Context, msgs []models.Message) ([]MessageDTO, error) {
	usernames, err := s.resolveUsernames(ctx, msgs)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		dto := MessageDTO{
			ID:        m.ID,
			RoomID:    m.RoomID,
			UserID:    m.UserID,
			Username:  usernames[m.UserID],
			Content:   m.Content,
			FilePath:  m.FilePath,
			IsRead:    m.IsRead,
			Timestamp: m.Timestamp,
			Display:   m.Timestamp.UTC().Format(DisplayTimeFormat),
		}
		if m.FilePath != nil {
			dto.Ext = Extension(*m.FilePath)
		}
		out = append(out, dto)
	}
	return out, nil
}

// resolveUsernames loads author names for msgs in one query.
func (s *MessageService) resolveUsernames(ctx context.Context, msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		userIDs = append(userIDs, m.UserID)
	}

	usernames := make(map[uint]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}
	return usernames, nil
}
