package service

import (
	"context"
	"testing"

	"roomchat/internal/auth"
	"roomchat/internal/db"
	"roomchat/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	users *UserService
	rooms *RoomService
	msgs  *MessageService
	stats *StatsService
	files *FileStore
	admin models.User
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Connect("sqlite:file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	files := NewFileStore(t.TempDir(), 1024, []string{"png", "jpg", "jpeg", "gif", "pdf"})
	f := &fixture{
		db:    gdb,
		users: NewUserService(gdb),
		rooms: NewRoomService(gdb),
		files: files,
		ctx:   context.Background(),
	}
	f.msgs = NewMessageService(gdb, files)
	f.stats = NewStatsService(gdb, f.msgs)

	created, err := f.users.EnsureAdmin(f.ctx, "admin")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, gdb.Where("username = ?", models.AdminUsername).First(&f.admin).Error)
	return f
}

// addUser inserts a user directly, bypassing the admin check.
func (f *fixture) addUser(t *testing.T, name string, role models.Role, active bool) models.User {
	t.Helper()
	hash, err := auth.HashPassword("secret-" + name)
	require.NoError(t, err)
	u := models.User{Username: name, PasswordHash: hash, Role: role, Active: active}
	require.NoError(t, f.db.Create(&u).Error)
	return u
}

func (f *fixture) addRoom(t *testing.T, name string) models.Room {
	t.Helper()
	r, err := f.rooms.Create(f.ctx, f.admin, name)
	require.NoError(t, err)
	return *r
}
