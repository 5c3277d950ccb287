package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/email"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/middleware"
)

type registerReq struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid registration data")
		return
	}

	sess, err := h.Users.Register(c.Request.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	// send welcome email
	if h.SMTPSetting.Enabled() {
		go func(to, uname string) {
			subject := "Welcome to GopherChat"
			body := "Hello " + uname + ",\n\n" +
				"Your GopherChat account has been created.\n\n" +
				"If you did not request this account, please contact our support immediately.\n\n" +
				"GopherChat\n"
			if err := email.SendText(h.SMTPSetting, to, subject, body); err != nil {
				log.Printf("[http] welcome email failed user=%s err=%v", sess.User.ID, err)
			}
		}(sess.User.Email, sess.User.Username)
	}

	common.OK(c, http.StatusCreated, sess)
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Email and password are required")
		return
	}

	sess, err := h.Users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, http.StatusOK, sess)
}

func (h *Handler) Verify(c *gin.Context) {
	id, ok := middleware.Identity(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return
	}
	common.OK(c, http.StatusOK, gin.H{"user": gin.H{
		"id":       id.UserID,
		"username": id.Username,
		"email":    id.Email,
	}})
}

func (h *Handler) SearchUsers(c *gin.Context) {
	found, err := h.Users.Search(c.Request.Context(), c.Query("username"), middleware.UserID(c))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, http.StatusOK, found)
}

func (h *Handler) Profile(c *gin.Context) {
	u, err := h.Users.Profile(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, http.StatusOK, gin.H{
		"id":         u.ID,
		"email":      u.Email,
		"username":   u.Username,
		"created_at": u.CreatedAt,
	})
}
