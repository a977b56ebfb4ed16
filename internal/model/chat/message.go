package chat

import (
	"time"

	"github.com/zhouzirui/chatty/backend/internal/model/user"
)

// Message is a chat line broadcast to live viewers. The author is copied by
// value at creation time and is not kept in sync with the user store.
type Message struct {
	ID        string    `json:"id"`
	Author    user.User `json:"author"`
	Body      string    `json:"body" validate:"required,max=4096"`
	CreatedAt time.Time `json:"createdAt"`
}
