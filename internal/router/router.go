// Package router validates, persists and fans out chat messages, and serves
// history reads.
package router

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"chat-relay/internal/blocklist"
	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/internal/ratelimit"
	"chat-relay/internal/registry"
	"chat-relay/pkg/logger"
)

const (
	DirectHistoryLimit = 50
	RoomHistoryLimit   = 100
)

type Transport interface {
	Send(h registry.Handle, event models.EventType, payload interface{}) error
	BroadcastToGroup(roomID string, event models.EventType, payload interface{})
}

type Directory interface {
	LookupByUser(userID string) (registry.Handle, bool)
}

type BlockChecker interface {
	Lookup(userID string) (blocklist.Entry, bool)
}

type SendRequest struct {
	Class           models.MessageClass
	RecipientID     string
	RoomID          string
	Body            string
	ClientMessageID string
}

type Router struct {
	blocks        BlockChecker
	limiter       *ratelimit.Limiter
	directory     Directory
	store         database.MessageRepository
	transport     Transport
	maxBodyLength int
}

func NewRouter(blocks BlockChecker, limiter *ratelimit.Limiter, directory Directory, store database.MessageRepository, transport Transport, maxBodyLength int) *Router {
	return &Router{
		blocks:        blocks,
		limiter:       limiter,
		directory:     directory,
		store:         store,
		transport:     transport,
		maxBodyLength: maxBodyLength,
	}
}

// Send runs one send attempt for sender. Every failure is signalled to the
// sender exactly once and returned; on success the message is fanned out and
// acknowledged. An offline direct recipient is not a failure.
func (r *Router) Send(ctx context.Context, sender registry.Handle, req SendRequest) (*models.Message, error) {
	senderID := sender.UserID()

	if entry, blocked := r.blocks.Lookup(senderID); blocked {
		logger.Info("Rejected %s message from blocked user %s", req.Class, senderID)
		r.signal(sender, models.EventBlocked, models.BlockedPayload{Reason: entry.Reason})
		return nil, &BlockedError{Reason: entry.Reason}
	}

	target, err := r.validate(req)
	if err != nil {
		logger.Debug("Invalid %s message from %s: %v", req.Class, senderID, err)
		r.signal(sender, models.EventInvalidMessage, models.ErrorPayload{Reason: err.Error()})
		return nil, err
	}

	unlock := r.limiter.Lock(senderID)
	decision := r.limiter.CheckAndMaybeBlock(senderID, req.Class, r.limiter.Now())
	if !decision.Allowed {
		unlock()
		logger.Info("Rate limited %s message from %s, retry in %ds", req.Class, senderID, decision.RetryAfterSeconds)
		r.signal(sender, models.EventRateLimited, models.RateLimitedPayload{
			Class:             req.Class,
			RetryAfterSeconds: decision.RetryAfterSeconds,
		})
		return nil, &RateLimitedError{RetryAfterSeconds: decision.RetryAfterSeconds}
	}

	// An accepted send completes even if the sender disconnects meanwhile.
	msg, err := r.store.InsertMessage(context.WithoutCancel(ctx), senderID, target, req.Body)
	if err != nil {
		unlock()
		logger.Error("Error saving %s message from %s: %v", req.Class, senderID, err)
		r.signal(sender, models.EventMessageFailed, models.MessageFailedPayload{ClientMessageID: req.ClientMessageID})
		return nil, fmt.Errorf("%w: %w", ErrMessageFailed, err)
	}
	r.limiter.Commit(senderID, req.Class)
	unlock()

	r.fanOut(req, msg, sender)

	r.signal(sender, models.EventMessageAck, models.MessageAck{
		MessageID:       msg.ID,
		ClientMessageID: req.ClientMessageID,
		Timestamp:       msg.CreatedAt,
	})
	return msg, nil
}

func (r *Router) validate(req SendRequest) (models.Target, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return models.Target{}, fmt.Errorf("%w: body is empty", ErrInvalidMessage)
	}
	if r.maxBodyLength > 0 && utf8.RuneCountInString(req.Body) > r.maxBodyLength {
		return models.Target{}, fmt.Errorf("%w: body exceeds %d characters", ErrInvalidMessage, r.maxBodyLength)
	}

	switch req.Class {
	case models.ClassDirect:
		if req.RecipientID == "" {
			return models.Target{}, fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
		}
		return models.DirectTarget(req.RecipientID), nil
	case models.ClassRoom:
		if req.RoomID == "" {
			return models.Target{}, fmt.Errorf("%w: room is required", ErrInvalidMessage)
		}
		if req.RoomID == models.GlobalRoomID {
			return models.Target{}, fmt.Errorf("%w: room %q is reserved", ErrInvalidMessage, req.RoomID)
		}
		return models.RoomTarget(req.RoomID), nil
	case models.ClassGlobal:
		return models.RoomTarget(models.GlobalRoomID), nil
	}
	return models.Target{}, fmt.Errorf("%w: unknown class %q", ErrInvalidMessage, req.Class)
}

func (r *Router) fanOut(req SendRequest, msg *models.Message, sender registry.Handle) {
	delivery := models.Delivery{
		MessageID:       msg.ID,
		ClientMessageID: req.ClientMessageID,
		Class:           req.Class,
		SenderID:        msg.SenderID,
		SenderUsername:  models.NewClientUser(sender.UserID(), sender.Username()).Username,
		Body:            msg.Body,
		Timestamp:       msg.CreatedAt,
		RoutingTarget:   msg.Target(),
	}

	switch req.Class {
	case models.ClassDirect:
		recipient, ok := r.directory.LookupByUser(msg.RecipientID)
		if !ok {
			logger.Debug("Recipient %s offline, message %s kept for history", msg.RecipientID, msg.ID)
			return
		}
		if err := r.transport.Send(recipient, models.EventDirectMessage, delivery); err != nil {
			logger.Error("Error delivering message %s to %s: %v", msg.ID, msg.RecipientID, err)
		}
	case models.ClassRoom:
		r.transport.BroadcastToGroup(msg.RoomID, models.EventRoomMessage, delivery)
	case models.ClassGlobal:
		r.transport.BroadcastToGroup(models.GlobalRoomID, models.EventGlobalMessage, delivery)
	}
}

func (r *Router) signal(h registry.Handle, event models.EventType, payload interface{}) {
	if err := r.transport.Send(h, event, payload); err != nil {
		logger.Error("Error sending %s to %s: %v", event, h.UserID(), err)
	}
}

// DirectMessageHistory returns the latest messages between userID and
// otherID, oldest first.
func (r *Router) DirectMessageHistory(ctx context.Context, userID, otherID string) ([]*models.Message, error) {
	msgs, err := r.store.QueryDirect(ctx, userID, otherID, DirectHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load direct history: %w", err)
	}
	return oldestFirst(msgs), nil
}

func (r *Router) RoomMessageHistory(ctx context.Context, roomID string) ([]*models.Message, error) {
	msgs, err := r.store.QueryRoom(ctx, roomID, RoomHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load room history: %w", err)
	}
	return oldestFirst(msgs), nil
}

func (r *Router) GlobalChatHistory(ctx context.Context) ([]*models.Message, error) {
	return r.RoomMessageHistory(ctx, models.GlobalRoomID)
}

// oldestFirst reverses a newest-first page in place.
func oldestFirst(messages []*models.Message) []*models.Message {
	if messages == nil {
		return []*models.Message{}
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}
