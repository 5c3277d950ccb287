package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/email"
	"github.com/suPer8Hu/gopherchat/internal/users"
	"gorm.io/gorm"
)

// Broadcaster pushes a persisted message to the live subscribers of its
// conversation.
type Broadcaster interface {
	BroadcastMessage(ctx context.Context, msg *chat.Message) error
}

type Handler struct {
	DB          *gorm.DB
	Users       *users.Service
	ChatSvc     *chat.Service
	Live        Broadcaster
	SMTPSetting email.SMTPConfig
}

// NewHandler wires the services. live may be nil, in which case REST sends
// are persisted but not broadcast.
func NewHandler(db *gorm.DB, usersSvc *users.Service, chatSvc *chat.Service, live Broadcaster, smtp email.SMTPConfig) *Handler {
	return &Handler{
		DB:          db,
		Users:       usersSvc,
		ChatSvc:     chatSvc,
		Live:        live,
		SMTPSetting: smtp,
	}
}

func (h *Handler) Health(c *gin.Context) {
	common.OK(c, http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) DBCheck(c *gin.Context) {
	sqlDB, err := h.DB.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		log.Printf("[http] db check failed request_id=%s err=%v", c.GetString(common.RequestIDKey), err)
		common.Fail(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable")
		return
	}
	common.OK(c, http.StatusOK, gin.H{"database": "ok"})
}
