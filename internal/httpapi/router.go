package httpapi

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/email"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/gopherchat/internal/users"
	"gorm.io/gorm"
)

type Deps struct {
	DB    *gorm.DB
	Cfg   config.Config
	Auth  *auth.Directory
	Users *users.Service
	Chat  *chat.Service
	// Live broadcasts REST sends; nil disables it.
	Live handlers.Broadcaster
	// WS serves GET /ws; nil leaves the route unregistered.
	WS http.Handler
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	r.Use(middleware.RequestID())
	if cc, ok := corsConfig(d.Cfg.FrontendURLs); ok {
		r.Use(cors.New(cc))
	}

	h := handlers.NewHandler(d.DB, d.Users, d.Chat, d.Live, email.SMTPConfig{
		Host: d.Cfg.SMTPHost,
		Port: d.Cfg.SMTPPort,
		User: d.Cfg.SMTPUser,
		Pass: d.Cfg.SMTPPass,
		From: d.Cfg.SMTPFrom,
	})

	r.GET("/health", h.Health)
	r.GET("/db-check", h.DBCheck)

	api := r.Group("/api")

	// auth
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	authGroup := api.Group("/")
	authGroup.Use(middleware.AuthRequired(d.Auth))
	authGroup.GET("/auth/verify", h.Verify)

	authGroup.GET("/users/search", h.SearchUsers)
	authGroup.GET("/users/profile", h.Profile)

	authGroup.POST("/conversations", h.CreateConversation)
	authGroup.GET("/conversations", h.ListConversations)
	authGroup.GET("/conversations/:id", h.GetConversation)

	authGroup.POST("/messages", h.SendMessage)
	authGroup.GET("/messages/:id", h.ListMessages)
	authGroup.PUT("/messages/:id/read", h.MarkRead)

	// the socket authenticates its own handshake
	if d.WS != nil {
		r.GET("/ws", gin.WrapH(d.WS))
	}
	return r
}

// corsConfig reports false when no usable origin is configured.
func corsConfig(origins []string) (cors.Config, bool) {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "*":
			cc.AllowAllOrigins = true
			cc.AllowOrigins = nil
			return cc, true
		case strings.HasPrefix(o, "http://"), strings.HasPrefix(o, "https://"):
			cc.AllowOrigins = append(cc.AllowOrigins, o)
		case o != "":
			log.Printf("[http] ignoring invalid frontend origin %q", o)
		}
	}
	if len(cc.AllowOrigins) == 0 {
		return cc, false
	}
	cc.AllowCredentials = true
	return cc, true
}
