package models

import (
	"strings"
	"time"
)

const (
	// AdminUsername is the bootstrap account that admin tooling may never modify.
	AdminUsername = "admin"
	// DefaultRoomName is seeded when no room exists and can never be deleted.
	DefaultRoomName = "Général"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:80;not null"`
	PasswordHash string `gorm:"size:200;not null"`
	Role         Role   `gorm:"size:20;not null;default:member"`
	Active       bool   `gorm:"index;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsProtected reports whether u is the bootstrap admin account.
func (u User) IsProtected() bool { return u.Username == AdminUsername }

type Room struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:80;not null"`
	Messages  []Message `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDefault reports whether r is the undeletable default room, ignoring case.
func (r Room) IsDefault() bool {
	return strings.EqualFold(strings.TrimSpace(r.Name), DefaultRoomName)
}

// Message holds either text content or a stored file reference.
type Message struct {
	ID        uint      `gorm:"primaryKey"`
	Content   *string   `gorm:"type:text"`
	FilePath  *string   `gorm:"size:255"`
	Timestamp time.Time `gorm:"index;not null"`
	UserID    uint      `gorm:"index;not null"`
	RoomID    uint      `gorm:"index;not null"`
	IsRead    bool      `gorm:"index;not null;default:false"`
}

// Session is one login. Tokens carry the session key so logout and
// deactivation can revoke them server-side.
type Session struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
