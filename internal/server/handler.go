package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"roomchat/internal/access"
	"roomchat/internal/auth"
	"roomchat/internal/models"
	"roomchat/internal/service"
	"roomchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler holds the HTTP handlers and the services they call into.
type Handler struct {
	users    *service.UserService
	rooms    *service.RoomService
	msgs     *service.MessageService
	stats    *service.StatsService
	sessions *auth.Sessions
	hub      *ws.Hub
	secure   bool
}

func NewHandler(users *service.UserService, rooms *service.RoomService, msgs *service.MessageService,
	stats *service.StatsService, sessions *auth.Sessions, hub *ws.Hub, secureCookies bool) *Handler {
	return &Handler{users: users, rooms: rooms, msgs: msgs, stats: stats, sessions: sessions, hub: hub, secure: secureCookies}
}

type userView struct {
	ID        uint        `json:"id"`
	Username  string      `json:"username"`
	Role      models.Role `json:"role"`
	Active    bool        `json:"active"`
	Protected bool        `json:"protected"`
	CreatedAt time.Time   `json:"created_at"`
}

func toUserView(u models.User) userView {
	return userView{ID: u.ID, Username: u.Username, Role: u.Role, Active: u.Active, Protected: u.IsProtected(), CreatedAt: u.CreatedAt}
}

// statusFor maps a service error onto an HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInactiveAccount):
		return http.StatusUnauthorized, "account disabled"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, service.ErrProtectedAccount):
		return http.StatusForbidden, "the admin account cannot be modified"
	case errors.Is(err, service.ErrProtectedRoom):
		return http.StatusForbidden, "the default room cannot be deleted"
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidUpload):
		return categoryStatus(err), err.Error()
	case errors.Is(err, service.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func categoryStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// fail writes the error response for err. Unexpected errors are logged.
func fail(c *gin.Context, op string, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Msg("request failed")
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func currentUser(c *gin.Context) models.User {
	u, _ := auth.CurrentUser(c)
	return u
}

func (h *Handler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, token, maxAge, "/", "", h.secure, true)
}

// LoginState reports whether the request carries a live session.
func (h *Handler) LoginState(c *gin.Context) {
	user, err := h.sessions.Resolve(c.Request.Context(), auth.TokenFromRequest(c.Request))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": toUserView(*user)})
}

type credentials struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, "login", err)
		return
	}
	token, exp, err := h.sessions.Issue(c.Request.Context(), *user)
	if err != nil {
		fail(c, "login issue session", err)
		return
	}
	h.setSessionCookie(c, token, int(h.sessions.TTL().Seconds()))
	log.Info().Str("username", user.Username).Msg("login")
	c.JSON(http.StatusOK, gin.H{"user": toUserView(*user), "token": token, "expires_at": exp, "notice": "welcome " + user.Username})
}

// Logout revokes the current session, if any, and clears the cookie.
func (h *Handler) Logout(c *gin.Context) {
	if token := auth.TokenFromRequest(c.Request); token != "" {
		if err := h.sessions.Revoke(c.Request.Context(), token); err != nil {
			fail(c, "logout", err)
			return
		}
	}
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"notice": "logged out"})
}

func (h *Handler) ChangePasswordForm(c *gin.Context) {
	u := currentUser(c)
	if !access.Allow(u, access.ChangeOwnPassword) {
		fail(c, "change password form", service.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserView(u)})
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req struct {
		OldPassword string `json:"old_password" form:"old_password"`
		NewPassword string `json:"new_password" form:"new_password"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.users.ChangeOwnPassword(c.Request.Context(), currentUser(c), req.OldPassword, req.NewPassword); err != nil {
		fail(c, "change password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notice": "password updated"})
}

// Overview is the landing page: totals and the latest messages.
func (h *Handler) Overview(c *gin.Context) {
	o, err := h.stats.Overview(c.Request.Context())
	if err != nil {
		fail(c, "overview", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserView(currentUser(c)), "overview": o, "online_users": h.hub.Online()})
}
