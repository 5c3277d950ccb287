package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/middleware"
)

type createConversationReq struct {
	ParticipantID string `json:"participant_id"`
}

func (h *Handler) CreateConversation(c *gin.Context) {
	var req createConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}

	conv, created, err := h.ChatSvc.FindOrCreateConversation(c.Request.Context(), middleware.UserID(c), req.ParticipantID)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	common.OK(c, status, conv)
}

func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.ChatSvc.ListConversations(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, http.StatusOK, convs)
}

func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.ChatSvc.GetConversation(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, http.StatusOK, conv)
}

type sendMessageReq struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Type           string `json:"type"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}

	msg, err := h.ChatSvc.SendMessage(c.Request.Context(), middleware.UserID(c), req.ConversationID, req.Content, req.Type)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	if h.Live != nil {
		if err := h.Live.BroadcastMessage(c.Request.Context(), msg); err != nil {
			log.Printf("[http] broadcast failed message=%s conversation=%s err=%v", msg.ID, msg.ConversationID, err)
		}
	}
	common.OK(c, http.StatusCreated, msg)
}

func (h *Handler) ListMessages(c *gin.Context) {
	// absent parameters take the defaults; explicit values go through as given
	limit, offset := chat.DefaultPageLimit, chat.DefaultPageOffset
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be an integer")
			return
		}
		limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "offset must be an integer")
			return
		}
		offset = n
	}

	page, err := h.ChatSvc.FetchMessages(c.Request.Context(), c.Param("id"), middleware.UserID(c), limit, offset)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, http.StatusOK, page)
}

func (h *Handler) MarkRead(c *gin.Context) {
	ack, err := h.ChatSvc.MarkRead(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.OK(c, http.StatusOK, ack)
}
