package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"roomchat/internal/access"
	"roomchat/internal/models"

	"gorm.io/gorm"
)

// RoomService owns chat rooms.
type RoomService struct {
	db *gorm.DB
}

func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db}
}

// RoomDTO is a room as shown in the room list.
type RoomDTO struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Unread int64  `json:"unread_count"`
}

// EnsureDefault seeds the default room when no room exists yet.
func (s *RoomService) EnsureDefault(ctx context.Context) (created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Room{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		created = true
		return tx.Create(&models.Room{Name: models.DefaultRoomName}).Error
	})
	return created, err
}

// List returns all rooms ordered by name. An empty store gets the default
// room first, so the result is never empty.
func (s *RoomService) List(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := s.db.WithContext(ctx).Order("name asc").Find(&rooms).Error; err != nil {
		return nil, err
	}
	if len(rooms) > 0 {
		return rooms, nil
	}
	// A concurrent seed can lose on the unique index; the re-read below
	// still sees the winner's row.
	_, seedErr := s.EnsureDefault(ctx)
	if err := s.db.WithContext(ctx).Order("name asc").Find(&rooms).Error; err != nil {
		return nil, err
	}
	if len(rooms) == 0 && seedErr != nil {
		return nil, seedErr
	}
	return rooms, nil
}

// ListWithUnread returns the room list with per-room unread counts for viewer.
func (s *RoomService) ListWithUnread(ctx context.Context, viewer models.User) ([]RoomDTO, error) {
	if !access.Allow(viewer, access.ReadRooms) {
		return nil, ErrForbidden
	}
	rooms, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := unreadCounts(s.db.WithContext(ctx), viewer.ID)
	if err != nil {
		return nil, err
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomDTO{ID: r.ID, Name: r.Name, Unread: counts[r.ID]})
	}
	return out, nil
}

func (s *RoomService) Get(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

func normalizeRoomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: room name cannot be empty", ErrInvalidInput)
	}
	if len(name) > 80 {
		return "", fmt.Errorf("%w: room name too long", ErrInvalidInput)
	}
	return name, nil
}

// Create adds a room. Admin only.
func (s *RoomService) Create(ctx context.Context, actor models.User, name string) (*models.Room, error) {
	if !access.Allow(actor, access.ManageRooms) {
		return nil, ErrForbidden
	}
	name, err := normalizeRoomName(name)
	if err != nil {
		return nil, err
	}
	var room models.Room
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Room{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrRoomNameTaken
		}
		room = models.Room{Name: name}
		return tx.Create(&room).Error
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// Rename changes a room's name. Admin only.
func (s *RoomService) Rename(ctx context.Context, actor models.User, id uint, newName string) (*models.Room, error) {
	if !access.Allow(actor, access.ManageRooms) {
		return nil, ErrForbidden
	}
	newName, err := normalizeRoomName(newName)
	if err != nil {
		return nil, err
	}
	var room models.Room
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&room, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		var count int64
		if err := tx.Model(&models.Room{}).Where("name = ? AND id <> ?", newName, room.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrRoomNameTaken
		}
		room.Name = newName
		return tx.Model(&room).Update("name", newName).Error
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// Delete removes a room and all its messages. The default room is protected.
func (s *RoomService) Delete(ctx context.Context, actor models.User, id uint) (*models.Room, error) {
	if !access.Allow(actor, access.ManageRooms) {
		return nil, ErrForbidden
	}
	var room models.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&room, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		if room.IsDefault() {
			return ErrProtectedRoom
		}
		if err := tx.Where("room_id = ?", room.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&room).Error
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}
