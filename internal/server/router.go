package server

import (
	"net/http"

	"roomchat/internal/auth"
	"roomchat/internal/config"
	"roomchat/internal/metrics"
	"roomchat/internal/mw"
	"roomchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter wires middleware, the JSON routes, uploaded files and the
// websocket endpoint.
func SetupRouter(cfg config.Config, h *Handler, gw *ws.Gateway) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestLogger())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/login", h.LoginState)
	r.POST("/login", h.Login)
	r.GET("/logout", h.Logout)
	r.GET("/ws", ws.Serve(gw, h.sessions))

	authed := r.Group("")
	authed.Use(auth.Middleware(h.sessions))

	authed.GET("/", h.Overview)
	authed.GET("/change_password", h.ChangePasswordForm)
	authed.POST("/change_password", h.ChangePassword)
	authed.StaticFS("/uploads", gin.Dir(cfg.UploadDir, false))

	admin := authed.Group("/admin")
	admin.GET("/dashboard", h.Dashboard)
	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.CreateUser)
	admin.GET("/toggle/:id", h.ToggleUser)
	admin.GET("/promote/:id", h.PromoteUser)
	admin.POST("/delete/:id", h.DeleteUser)
	admin.POST("/edit/:id", h.EditUser)
	admin.POST("/reset_password/:id", h.ResetPassword)

	chat := authed.Group("/chat")
	chat.GET("/", h.ListRooms)
	chat.POST("/create", h.CreateRoom)
	chat.POST("/upload/:id", h.Upload)
	chat.GET("/:id", h.Room)
	chat.GET("/:id/messages", h.Messages)
	chat.POST("/:id/edit", h.RenameRoom)
	chat.POST("/:id/delete", h.DeleteRoom)

	return r
}
