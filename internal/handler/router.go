package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/chatty/backend/internal/handler/chat"
	"github.com/zhouzirui/chatty/backend/internal/handler/push"
	"github.com/zhouzirui/chatty/backend/internal/handler/user"
	middlewarePkg "github.com/zhouzirui/chatty/backend/internal/middleware"
	userModel "github.com/zhouzirui/chatty/backend/internal/model/user"
	"github.com/zhouzirui/chatty/backend/internal/service/broadcast"
	chatService "github.com/zhouzirui/chatty/backend/internal/service/chat"
	"github.com/zhouzirui/chatty/backend/pkg/utils"
)

// Hubs groups the broadcast hubs behind the real-time endpoints.
type Hubs struct {
	Chat     *broadcast.Hub // echo channel, every client frame goes to every chat client
	Messages *broadcast.Hub // push-only feed of messages created through the API
}

// NewRouter wires HTTP routes to core services.
func NewRouter(users userModel.Store, chatSvc *chatService.Service, hubs Hubs, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	userHandler := user.New(users, log)
	chatHandler := chat.New(chatSvc, log)
	chatPush := push.New(hubs.Chat, log, true)
	messagePush := push.New(hubs.Messages, log, false)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":             "ok",
			"chatSubscribers":    hubs.Chat.Count(),
			"messageSubscribers": hubs.Messages.Count(),
		})
	})

	r.Route("/chatty", func(r chi.Router) {
		r.Route("/api", func(api chi.Router) {
			userHandler.RegisterRoutes(api)
			chatHandler.RegisterRoutes(api)
		})

		r.Route("/atmos", func(atmos chi.Router) {
			atmos.Get("/chat", chatPush.HandleWebSocket)
			atmos.Get("/messages", messagePush.HandleWebSocket)
			atmos.Get("/messages/stream", messagePush.HandleStream)
		})
	})

	return r
}
