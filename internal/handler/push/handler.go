package push

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/chatty/backend/internal/service/broadcast"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	heartbeatEvery = 15 * time.Second
)

// Handler 把一个广播中心暴露为 WebSocket 与 SSE 推送通道
type Handler struct {
	hub         *broadcast.Hub
	log         *slog.Logger
	upgrader    websocket.Upgrader
	interactive bool
}

// New 创建推送处理器。interactive 为 true 时，客户端发来的文本帧会交给广播中心分发
func New(hub *broadcast.Hub, log *slog.Logger, interactive bool) *Handler {
	return &Handler{
		hub:         hub,
		log:         log,
		interactive: interactive,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}
