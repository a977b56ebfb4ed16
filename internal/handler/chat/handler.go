package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chatty/backend/internal/model/chat"
	"github.com/zhouzirui/chatty/backend/internal/model/user"
	"github.com/zhouzirui/chatty/backend/internal/service/broadcast"
	chatService "github.com/zhouzirui/chatty/backend/internal/service/chat"
	"github.com/zhouzirui/chatty/backend/pkg/utils"
)

// MessagePoster 发布聊天消息
type MessagePoster interface {
	PostMessage(ctx context.Context, message chat.Message) (chat.Message, broadcast.Result, error)
}

// Handler 聊天消息的HTTP处理器
type Handler struct {
	chatSvc MessagePoster
	log     *slog.Logger
}

// New 创建聊天处理器
func New(chatSvc MessagePoster, log *slog.Logger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		log:     log,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handlePostMessage)
}

// handlePostMessage 创建消息并推送给在线客户端
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Author user.User `json:"author"`
		Body   string    `json:"body"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message, _, err := h.chatSvc.PostMessage(r.Context(), chat.Message{
		Author: payload.Author,
		Body:   payload.Body,
	})
	if err != nil {
		if errors.Is(err, chatService.ErrInvalidMessage) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("post message failed", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, message)
}
