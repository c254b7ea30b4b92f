package service

import (
	"context"

	"roomchat/internal/access"
	"roomchat/internal/models"

	"gorm.io/gorm"
)

// StatsService computes the aggregate counts shown on the landing page and
// the admin dashboard.
type StatsService struct {
	db   *gorm.DB
	msgs *MessageService
}

func NewStatsService(db *gorm.DB, msgs *MessageService) *StatsService {
	return &StatsService{db: db, msgs: msgs}
}

type RoomStat struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type PosterStat struct {
	Username string `json:"username"`
	Count    int64  `json:"count"`
}

type Dashboard struct {
	TotalUsers    int64        `json:"total_users"`
	TotalRooms    int64        `json:"total_rooms"`
	TotalMessages int64        `json:"total_messages"`
	Rooms         []RoomStat   `json:"room_stats"`
	TopUsers      []PosterStat `json:"top_users"`
}

type Overview struct {
	TotalUsers     int64        `json:"total_users"`
	TotalMessages  int64        `json:"total_messages"`
	LatestMessages []MessageDTO `json:"latest_messages"`
}

// Dashboard returns totals, per-room message counts and the five most active
// posters. Admin only.
func (s *StatsService) Dashboard(ctx context.Context, actor models.User) (*Dashboard, error) {
	if !access.Allow(actor, access.ViewDashboard) {
		return nil, ErrForbidden
	}
	db := s.db.WithContext(ctx)
	d := &Dashboard{}
	if err := db.Model(&models.User{}).Count(&d.TotalUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Room{}).Count(&d.TotalRooms).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Message{}).Count(&d.TotalMessages).Error; err != nil {
		return nil, err
	}
	err := db.Table("rooms").
		Select("rooms.name AS name, COUNT(messages.id) AS count").
		Joins("LEFT JOIN messages ON messages.room_id = rooms.id").
		Group("rooms.id, rooms.name").
		Order("rooms.name asc").
		Scan(&d.Rooms).Error
	if err != nil {
		return nil, err
	}
	err = db.Table("users").
		Select("users.username AS username, COUNT(messages.id) AS count").
		Joins("JOIN messages ON messages.user_id = users.id").
		Group("users.id, users.username").
		Order("count desc").
		Limit(5).
		Scan(&d.TopUsers).Error
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Overview is the landing page summary available to any signed-in user.
func (s *StatsService) Overview(ctx context.Context) (*Overview, error) {
	db := s.db.WithContext(ctx)
	o := &Overview{}
	if err := db.Model(&models.User{}).Count(&o.TotalUsers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Message{}).Count(&o.TotalMessages).Error; err != nil {
		return nil, err
	}
	latest, err := s.msgs.Latest(ctx, 5)
	if err != nil {
		return nil, err
	}
	o.LatestMessages = latest
	return o, nil
}
