package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/chatty/backend/internal/model/chat"
	"github.com/zhouzirui/chatty/backend/internal/service/broadcast"
	"github.com/zhouzirui/chatty/backend/pkg/utils"
)

var ErrInvalidMessage = errors.New("invalid message")

// Publisher fans a payload out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) broadcast.Result
}

// Service creates chat messages and pushes them to connected viewers.
// Messages are not retained; a message posted while nobody listens is lost.
type Service struct {
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
}

// NewService wires the message service to a publisher.
func NewService(publisher Publisher, log *slog.Logger) *Service {
	return &Service{
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PostMessage validates message, stamps it with an id and creation time and broadcasts it.
func (s *Service) PostMessage(ctx context.Context, message chat.Message) (chat.Message, broadcast.Result, error) {
	if err := utils.Validate(message); err != nil {
		return chat.Message{}, broadcast.Result{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	message.ID = uuid.NewString()
	message.CreatedAt = s.now()

	payload, err := json.Marshal(message)
	if err != nil {
		return chat.Message{}, broadcast.Result{}, fmt.Errorf("marshal message: %w", err)
	}

	result := s.publisher.Publish(ctx, payload)
	s.log.Info("message posted",
		"message", message.ID,
		"author", message.Author.ID,
		"delivered", result.Delivered,
		"dropped", result.Dropped)

	return message, result, nil
}
