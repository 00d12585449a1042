package models

import "time"

type EventType string

// Inbound client events.
const (
	EventDirectMessage    EventType = "direct_message"
	EventRoomMessage      EventType = "room_message"
	EventGlobalMessage    EventType = "global_message"
	EventJoinRoom         EventType = "join_room"
	EventLeaveRoom        EventType = "leave_room"
	EventGetPresence      EventType = "get_presence"
	EventGetDirectHistory EventType = "get_direct_history"
	EventGetRoomHistory   EventType = "get_room_history"
	EventGetGlobalHistory EventType = "get_global_history"
)

// Outbound server events. Message deliveries reuse the inbound message
// event names.
const (
	EventPresenceSnapshot EventType = "presence_snapshot"
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventMessageAck       EventType = "message_ack"
	EventHistory          EventType = "history"
	EventRoomJoined       EventType = "room_joined"
	EventRoomLeft         EventType = "room_left"
	EventBlocked          EventType = "blocked"
	EventRateLimited      EventType = "rate_limited"
	EventMessageFailed    EventType = "message_failed"
	EventInvalidMessage   EventType = "invalid_message"
	EventError            EventType = "error"
)

// InboundEvent is a decoded client frame. Only the fields relevant to Type
// are populated.
type InboundEvent struct {
	Type            EventType `json:"type"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
	RecipientID     string    `json:"recipientId,omitempty"`
	RoomID          string    `json:"roomId,omitempty"`
	UserID          string    `json:"userId,omitempty"`
	Body            string    `json:"body,omitempty"`
}

// Envelope wraps every outbound frame.
type Envelope struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Delivery is the payload fanned out to recipient connections.
type Delivery struct {
	MessageID       string       `json:"messageId"`
	ClientMessageID string       `json:"clientMessageId,omitempty"`
	Class           MessageClass `json:"class"`
	SenderID        string       `json:"senderId"`
	SenderUsername  string       `json:"senderUsername"`
	Body            string       `json:"body"`
	Timestamp       time.Time    `json:"timestamp"`
	RoutingTarget   Target       `json:"routingTarget"`
}

type MessageAck struct {
	MessageID       string    `json:"messageId"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type BlockedPayload struct {
	Reason string `json:"reason"`
}

type RateLimitedPayload struct {
	Class             MessageClass `json:"class"`
	RetryAfterSeconds int          `json:"retryAfterSeconds"`
}

type MessageFailedPayload struct {
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type ErrorPayload struct {
	Reason string `json:"reason"`
}

type HistoryPayload struct {
	Target   Target     `json:"target"`
	Messages []*Message `json:"messages"`
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}
