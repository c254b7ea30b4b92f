package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/config"
	"roomchat/internal/db"
	"roomchat/internal/models"
	"roomchat/internal/presence"
	"roomchat/internal/service"
	"roomchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	t      *testing.T
	engine *gin.Engine
	db     *gorm.DB
	rooms  *service.RoomService
	users  *service.UserService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		Port:                "0",
		Env:                 "test",
		DatabaseDSN:         "sqlite:file:" + t.Name() + "?mode=memory&cache=shared",
		SecretKey:           "test-secret",
		SessionTTLMinutes:   60,
		UploadDir:           t.TempDir(),
		MaxUploadBytes:      1024,
		AllowedExtensions:   []string{"png", "pdf"},
		RoomScopedBroadcast: true,
	}
	gdb, err := db.Connect(cfg.DatabaseDSN)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	users := service.NewUserService(gdb)
	rooms := service.NewRoomService(gdb)
	msgs := service.NewMessageService(gdb, service.NewFileStore(cfg.UploadDir, cfg.MaxUploadBytes, cfg.AllowedExtensions))
	stats := service.NewStatsService(gdb, msgs)
	_, err = users.EnsureAdmin(context.Background(), "admin")
	require.NoError(t, err)
	_, err = rooms.EnsureDefault(context.Background())
	require.NoError(t, err)

	hub := ws.NewHub(presence.NewTracker(), cfg.RoomScopedBroadcast)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	sessions := auth.NewSessions(gdb, cfg.SecretKey, time.Hour)
	gw := ws.NewGateway(hub, users, msgs, rooms, cfg.MaxUploadBytes, nil)
	h := NewHandler(users, rooms, msgs, stats, sessions, hub, false)
	return &testEnv{t: t, engine: SetupRouter(cfg, h, gw), db: gdb, rooms: rooms, users: users}
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(username, password string) string {
	e.t.Helper()
	w := e.do(http.MethodPost, "/login", "", map[string]string{"username": username, "password": password})
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(e.t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(e.t, resp.Token)
	return resp.Token
}

func (e *testEnv) userID(name string) uint {
	e.t.Helper()
	var u models.User
	require.NoError(e.t, e.db.Where("username = ?", name).First(&u).Error)
	return u.ID
}

func (e *testEnv) defaultRoomID() uint {
	e.t.Helper()
	list, err := e.rooms.List(context.Background())
	require.NoError(e.t, err)
	return list[0].ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginFlow(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(http.MethodGet, "/chat/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodPost, "/login", "", map[string]string{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodPost, "/login", "", map[string]string{"username": "admin", "password": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "session cookie set")
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	assert.Equal(t, true, decode(t, w)["authenticated"])

	token := cookie.Value
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/chat/", token, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/logout", token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/chat/", token, nil).Code)
}

func TestLoginFormEncoded(t *testing.T) {
	e := newTestEnv(t)
	form := url.Values{"username": {"admin"}, "password": {"admin"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAdminUserManagement(t *testing.T) {
	e := newTestEnv(t)
	admin := e.login("admin", "admin")

	w := e.do(http.MethodPost, "/admin/users", admin, map[string]string{"username": "alice", "password": "pw123456", "role": "member"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = e.do(http.MethodPost, "/admin/users", admin, map[string]string{"username": "alice", "password": "x", "role": "member"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = e.do(http.MethodPost, "/admin/users", admin, map[string]string{"username": "bob", "password": "x", "role": "wizard"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	alice := e.login("alice", "pw123456")
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/admin/users", alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/admin/dashboard", alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/change_password", alice, nil).Code)

	w = e.do(http.MethodGet, "/admin/users?q=ALI", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["total"])
	users := body["users"].([]interface{})
	first := users[0].(map[string]interface{})
	assert.Equal(t, "alice", first["username"])
	assert.NotContains(t, first, "PasswordHash")

	adminID := e.userID("admin")
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/admin/toggle/%d"},
		{http.MethodGet, "/admin/promote/%d"},
		{http.MethodPost, "/admin/delete/%d"},
		{http.MethodPost, "/admin/edit/%d"},
		{http.MethodPost, "/admin/reset_password/%d"},
	} {
		w := e.do(tc.method, fmt.Sprintf(tc.path, adminID), admin, map[string]string{"role": "member"})
		assert.Equal(t, http.StatusForbidden, w.Code, tc.path)
	}

	aliceID := e.userID("alice")
	w = e.do(http.MethodPost, fmt.Sprintf("/admin/reset_password/%d", aliceID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.TempPassword, decode(t, w)["temporary_password"])

	w = e.do(http.MethodGet, fmt.Sprintf("/admin/toggle/%d", aliceID), admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/chat/", alice, nil).Code, "disabled user loses session")

	w = e.do(http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": service.TempPassword})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/admin/delete/9999", admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/admin/delete/abc", admin, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, fmt.Sprintf("/admin/delete/%d", aliceID), admin, nil).Code)
}

func TestChangePassword(t *testing.T) {
	e := newTestEnv(t)
	admin := e.login("admin", "admin")

	w := e.do(http.MethodPost, "/change_password", admin, map[string]string{"old_password": "admin", "new_password": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(http.MethodPost, "/change_password", admin, map[string]string{"old_password": "wrong", "new_password": "abcdef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.do(http.MethodPost, "/change_password", admin, map[string]string{"old_password": "admin", "new_password": "abcdef"})
	assert.Equal(t, http.StatusOK, w.Code)
	e.login("admin", "abcdef")
}

func TestRooms(t *testing.T) {
	e := newTestEnv(t)
	admin := e.login("admin", "admin")

	w := e.do(http.MethodPost, "/chat/create", admin, map[string]string{"name": "Dev"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	devID := uint(decode(t, w)["room"].(map[string]interface{})["id"].(float64))

	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, "/chat/create", admin, map[string]string{"name": "Dev"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/chat/create", admin, map[string]string{"name": "  "}).Code)

	w = e.do(http.MethodPost, fmt.Sprintf("/chat/%d/edit", devID), admin, map[string]string{"name": "Ops"})
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, fmt.Sprintf("/chat/%d/delete", e.defaultRoomID()), admin, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPost, fmt.Sprintf("/chat/%d/delete", devID), admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, fmt.Sprintf("/chat/%d", devID), admin, nil).Code)

	w = e.do(http.MethodGet, "/chat/", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rooms := decode(t, w)["rooms"].([]interface{})
	require.Len(t, rooms, 1)
	assert.Equal(t, models.DefaultRoomName, rooms[0].(map[string]interface{})["name"])
}

func TestRoomMarksRead(t *testing.T) {
	e := newTestEnv(t)
	admin := e.login("admin", "admin")
	_, err := e.users.Create(context.Background(), models.User{Username: "admin", Role: models.RoleAdmin, Active: true}, "bob", "pw", "member")
	require.NoError(t, err)
	bob := e.login("bob", "pw")

	roomID := e.defaultRoomID()
	var adminUser models.User
	require.NoError(t, e.db.First(&adminUser, e.userID("admin")).Error)
	msgs := service.NewMessageService(e.db, nil)
	for _, text := range []string{"one", "two"} {
		_, err := msgs.SendText(context.Background(), adminUser, roomID, text)
		require.NoError(t, err)
	}

	w := e.do(http.MethodGet, "/chat/", bob, nil)
	rooms := decode(t, w)["rooms"].([]interface{})
	assert.EqualValues(t, 2, rooms[0].(map[string]interface{})["unread_count"])

	w = e.do(http.MethodGet, fmt.Sprintf("/chat/%d", roomID), bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["marked_read"])
	history := body["messages"].([]interface{})
	require.Len(t, history, 2)
	assert.Equal(t, "two", history[0].(map[string]interface{})["content"])

	w = e.do(http.MethodGet, fmt.Sprintf("/chat/%d/messages", roomID), admin, nil)
	page := decode(t, w)["messages"].([]interface{})
	require.Len(t, page, 2)
	assert.Equal(t, "one", page[0].(map[string]interface{})["content"])

	w = e.do(http.MethodGet, "/chat/", bob, nil)
	rooms = decode(t, w)["rooms"].([]interface{})
	assert.EqualValues(t, 0, rooms[0].(map[string]interface{})["unread_count"])
}

func uploadRequest(t *testing.T, path, token, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUpload(t *testing.T) {
	e := newTestEnv(t)
	admin := e.login("admin", "admin")
	path := fmt.Sprintf("/chat/upload/%d", e.defaultRoomID())

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, uploadRequest(t, path, admin, "shot 1.png", []byte("png-bytes")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	filePath := body["file_path"].(string)
	assert.True(t, strings.HasPrefix(filePath, "uploads/"))
	assert.True(t, strings.HasSuffix(filePath, "_shot_1.png"))
	assert.Equal(t, "png", body["ext"])

	// The stored file is served back to signed-in users.
	req := httptest.NewRequest(http.MethodGet, "/"+filePath, nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	w = httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png-bytes", w.Body.String())

	w = httptest.NewRecorder()
	e.engine.ServeHTTP(w, uploadRequest(t, path, admin, "evil.exe", []byte("MZ")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	e.engine.ServeHTTP(w, uploadRequest(t, path, admin, "big.png", bytes.Repeat([]byte("x"), 2048)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	e.engine.ServeHTTP(w, uploadRequest(t, "/chat/upload/9999", admin, "a.png", []byte("x")))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOverviewAndDashboard(t *testing.T) {
	e := newTestEnv(t)
	admin := e.login("admin", "admin")

	w := e.do(http.MethodGet, "/", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	overview := decode(t, w)["overview"].(map[string]interface{})
	assert.EqualValues(t, 1, overview["total_users"])

	w = e.do(http.MethodGet, "/admin/dashboard", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := decode(t, w)
	assert.EqualValues(t, 1, d["total_rooms"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{service.ErrInactiveAccount, http.StatusUnauthorized},
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrProtectedAccount, http.StatusForbidden},
		{service.ErrProtectedRoom, http.StatusForbidden},
		{service.ErrUserNotFound, http.StatusNotFound},
		{service.ErrRoomNameTaken, http.StatusConflict},
		{service.ErrInvalidInput, http.StatusBadRequest},
		{service.ErrInvalidUpload, http.StatusBadRequest},
		{service.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("wrapped: %w", service.ErrRoomNotFound), http.StatusNotFound},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}
