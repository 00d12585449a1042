package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chat-relay/internal/models"
	"chat-relay/internal/registry"
	"chat-relay/internal/router"
	"chat-relay/internal/session"
	"chat-relay/pkg/logger"
)

var ErrUnknownEvent = errors.New("unknown event type")

type Sender interface {
	Send(h registry.Handle, event models.EventType, payload interface{}) error
}

// ChatService turns decoded client frames into router and session calls.
type ChatService struct {
	router    *router.Router
	lifecycle *session.Lifecycle
	sender    Sender
}

func NewChatService(r *router.Router, lifecycle *session.Lifecycle, sender Sender) *ChatService {
	return &ChatService{router: r, lifecycle: lifecycle, sender: sender}
}

// HandleFrame decodes one text frame from h and dispatches it.
func (s *ChatService) HandleFrame(ctx context.Context, h registry.Handle, data []byte) error {
	var ev models.InboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.reply(h, models.EventError, models.ErrorPayload{Reason: "malformed frame"})
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	return s.HandleEvent(ctx, h, &ev)
}

func (s *ChatService) HandleEvent(ctx context.Context, h registry.Handle, ev *models.InboundEvent) error {
	switch ev.Type {
	case models.EventDirectMessage:
		return s.send(ctx, h, models.ClassDirect, ev)
	case models.EventRoomMessage:
		return s.send(ctx, h, models.ClassRoom, ev)
	case models.EventGlobalMessage:
		return s.send(ctx, h, models.ClassGlobal, ev)

	case models.EventJoinRoom:
		if !s.lifecycle.JoinRoom(h, ev.RoomID) {
			s.reply(h, models.EventError, models.ErrorPayload{Reason: "invalid room"})
		}
		return nil
	case models.EventLeaveRoom:
		if !s.lifecycle.LeaveRoom(h, ev.RoomID) {
			s.reply(h, models.EventError, models.ErrorPayload{Reason: "invalid room"})
		}
		return nil

	case models.EventGetPresence:
		s.lifecycle.SendPresence(ctx, h)
		return nil

	case models.EventGetDirectHistory:
		if ev.UserID == "" {
			s.reply(h, models.EventError, models.ErrorPayload{Reason: "userId is required"})
			return nil
		}
		msgs, err := s.router.DirectMessageHistory(ctx, h.UserID(), ev.UserID)
		return s.history(h, models.DirectTarget(ev.UserID), msgs, err)
	case models.EventGetRoomHistory:
		if ev.RoomID == "" {
			s.reply(h, models.EventError, models.ErrorPayload{Reason: "roomId is required"})
			return nil
		}
		msgs, err := s.router.RoomMessageHistory(ctx, ev.RoomID)
		return s.history(h, models.RoomTarget(ev.RoomID), msgs, err)
	case models.EventGetGlobalHistory:
		msgs, err := s.router.GlobalChatHistory(ctx)
		return s.history(h, models.RoomTarget(models.GlobalRoomID), msgs, err)
	}

	s.reply(h, models.EventError, models.ErrorPayload{Reason: fmt.Sprintf("unknown event type %q", ev.Type)})
	return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
}

func (s *ChatService) send(ctx context.Context, h registry.Handle, class models.MessageClass, ev *models.InboundEvent) error {
	_, err := s.router.Send(ctx, h, router.SendRequest{
		Class:           class,
		RecipientID:     ev.RecipientID,
		RoomID:          ev.RoomID,
		Body:            ev.Body,
		ClientMessageID: ev.ClientMessageID,
	})
	return err
}

func (s *ChatService) history(h registry.Handle, target models.Target, msgs []*models.Message, err error) error {
	if err != nil {
		logger.Error("Error loading %s history for %s: %v", target, h.UserID(), err)
		s.reply(h, models.EventError, models.ErrorPayload{Reason: "history unavailable"})
		return err
	}
	s.reply(h, models.EventHistory, models.HistoryPayload{Target: target, Messages: msgs})
	return nil
}

func (s *ChatService) reply(h registry.Handle, event models.EventType, payload interface{}) {
	if err := s.sender.Send(h, event, payload); err != nil {
		logger.Error("Error sending %s to %s: %v", event, h.UserID(), err)
	}
}
