package user

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chatty/backend/internal/model/user"
	"github.com/zhouzirui/chatty/backend/pkg/utils"
)

// Handler 用户服务的HTTP处理器
type Handler struct {
	users user.Store
	log   *slog.Logger
}

// New 创建用户处理器
func New(users user.Store, log *slog.Logger) *Handler {
	return &Handler{
		users: users,
		log:   log,
	}
}

// RegisterRoutes 注册用户相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.handleListUsers)
		r.Post("/", h.handleCreateUser)
		r.Delete("/", h.handleDeleteAllUsers)
		r.Get("/count", h.handleCountUsers)
		r.Get("/{userID}", h.handleGetUser)
		r.Put("/{userID}", h.handleUpdateUser)
		r.Delete("/{userID}", h.handleDeleteUser)
	})
}

// handleListUsers 列出所有用户
func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.GetAll(r.Context())
	if err != nil {
		h.respondStoreError(w, "list users", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, users)
}

// handleGetUser 按ID查询用户
func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondStoreError(w, "get user", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, u)
}

// handleCreateUser 创建用户，已存在的ID会被覆盖
func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var payload user.User
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := utils.Validate(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.users.Save(r.Context(), payload)
	if err != nil {
		h.respondStoreError(w, "save user", err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, saved)
}

// handleUpdateUser 全量更新用户，路径中的ID优先于请求体
func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var payload user.User
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload.ID = chi.URLParam(r, "userID")
	if err := utils.Validate(payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.users.Update(r.Context(), payload)
	if err != nil {
		h.respondStoreError(w, "update user", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, updated)
}

// handleDeleteUser 删除单个用户
func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.DeleteByID(r.Context(), chi.URLParam(r, "userID")); err != nil {
		h.respondStoreError(w, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAllUsers 清空用户
func (h *Handler) handleDeleteAllUsers(w http.ResponseWriter, r *http.Request) {
	if err := h.users.DeleteAll(r.Context()); err != nil {
		h.respondStoreError(w, "delete all users", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCountUsers 返回用户数量
func (h *Handler) handleCountUsers(w http.ResponseWriter, r *http.Request) {
	n, err := h.users.Size(r.Context())
	if err != nil {
		h.respondStoreError(w, "count users", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) respondStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, user.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.log.Error("user store failure", "op", op, "error", err)
	utils.RespondError(w, http.StatusInternalServerError, "internal error")
}
