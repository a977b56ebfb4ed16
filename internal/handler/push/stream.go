package push

import (
	"net/http"
	"time"

	"github.com/zhouzirui/chatty/backend/internal/service/broadcast"
	"github.com/zhouzirui/chatty/backend/pkg/utils"
)

// HandleStream 以 Server-Sent Events 推送广播消息，作为 WebSocket 不可用时的回退方案
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	sub := h.hub.Subscribe()
	ctx := r.Context()

	if err := utils.SendSSEEvent(w, flusher, "connected", map[string]string{"client": sub.ID()}); err != nil {
		h.hub.Disconnect(sub, broadcast.ReasonCancelled)
		return
	}

	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.hub.Unsubscribe(sub)
			return
		case <-sub.Done():
			return
		case payload := <-sub.Messages():
			if err := utils.SendSSERaw(w, flusher, "message", payload); err != nil {
				h.log.Warn("sse write failed", "client", sub.ID(), "error", err)
				h.hub.Disconnect(sub, broadcast.ReasonCancelled)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				h.hub.Disconnect(sub, broadcast.ReasonCancelled)
				return
			}
		}
	}
}
