package push

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/chatty/backend/internal/service/broadcast"
)

// HandleWebSocket 升级连接并在其生命周期内注册为订阅者
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, sub)
	}()

	reason := h.readLoop(ctx, conn, sub)
	h.hub.Disconnect(sub, reason)
	cancel()
	<-writerDone
}

// readLoop 读取客户端消息直到连接断开，返回断开原因
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscriber) broadcast.DisconnectReason {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return h.classifyReadError(sub, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if !h.interactive || messageType != websocket.TextMessage {
			continue
		}
		if _, err := h.hub.Dispatch(ctx, sub, data); err != nil {
			h.log.Warn("dispatch failed", "client", sub.ID(), "error", err)
		}
	}
}

// writeLoop 把订阅到的消息写回客户端，并定期发送 ping
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, sub.Reason().String())
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
			// unblock the reader in case the peer never answers the close frame
			_ = conn.SetReadDeadline(time.Now().Add(writeWait))
			return
		case payload := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.log.Warn("websocket write failed", "client", sub.ID(), "error", err)
				h.hub.Disconnect(sub, broadcast.ReasonCancelled)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.hub.Disconnect(sub, broadcast.ReasonCancelled)
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *Handler) classifyReadError(sub *broadcast.Subscriber, err error) broadcast.DisconnectReason {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return broadcast.ReasonClosedByClient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return broadcast.ReasonCancelled
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		h.log.Warn("message exceeded size limit", "client", sub.ID(), "limit", maxMessageSize)
		return broadcast.ReasonCancelled
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.log.Warn("websocket read error", "client", sub.ID(), "error", err)
	}
	return broadcast.ReasonCancelled
}
