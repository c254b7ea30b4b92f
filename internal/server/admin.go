package server

import (
	"net/http"
	"strconv"

	"roomchat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func (h *Handler) Dashboard(c *gin.Context) {
	d, err := h.stats.Dashboard(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, "dashboard", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	res, err := h.users.List(c.Request.Context(), currentUser(c), c.Query("q"), page)
	if err != nil {
		fail(c, "list users", err)
		return
	}
	views := make([]userView, 0, len(res.Users))
	for _, u := range res.Users {
		views = append(views, toUserView(u))
	}
	c.JSON(http.StatusOK, gin.H{
		"users":    views,
		"total":    res.Total,
		"page":     res.Page,
		"per_page": res.PerPage,
		"pages":    res.Pages,
		"q":        res.Query,
		"roles":    models.Roles,
	})
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req struct {
		Username string `json:"username" form:"username"`
		Password string `json:"password" form:"password"`
		Role     string `json:"role" form:"role"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	actor := currentUser(c)
	u, err := h.users.Create(c.Request.Context(), actor, req.Username, req.Password, req.Role)
	if err != nil {
		fail(c, "create user", err)
		return
	}
	log.Info().Str("by", actor.Username).Str("username", u.Username).Str("role", string(u.Role)).Msg("user created")
	c.JSON(http.StatusCreated, gin.H{"user": toUserView(*u), "notice": "user " + u.Username + " created"})
}

func (h *Handler) ToggleUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	u, err := h.users.Toggle(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, "toggle user", err)
		return
	}
	state := "disabled"
	if u.Active {
		state = "enabled"
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserView(*u), "notice": u.Username + " " + state})
}

func (h *Handler) PromoteUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	u, err := h.users.Promote(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, "promote user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserView(*u), "notice": u.Username + " is now " + string(u.Role)})
}

func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor := currentUser(c)
	u, err := h.users.Delete(c.Request.Context(), actor, id)
	if err != nil {
		fail(c, "delete user", err)
		return
	}
	log.Info().Str("by", actor.Username).Str("username", u.Username).Msg("user deleted")
	c.JSON(http.StatusOK, gin.H{"notice": "user " + u.Username + " deleted"})
}

func (h *Handler) EditUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Role     string `json:"role" form:"role"`
		Password string `json:"password" form:"password"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.users.Edit(c.Request.Context(), currentUser(c), id, req.Role, req.Password)
	if err != nil {
		fail(c, "edit user", err)
		return
	}
	notice := "nothing changed"
	switch {
	case res.RoleChanged && res.PasswordChanged:
		notice = "role and password updated"
	case res.RoleChanged:
		notice = "role updated"
	case res.PasswordChanged:
		notice = "password updated"
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserView(*res.User), "notice": notice})
}

func (h *Handler) ResetPassword(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	u, temp, err := h.users.ResetPassword(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, "reset password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserView(*u), "temporary_password": temp, "notice": "password reset for " + u.Username})
}
