package models

import (
	"fmt"
	"time"
)

type MessageClass string

const (
	ClassDirect MessageClass = "direct"
	ClassGlobal MessageClass = "global"
	ClassRoom   MessageClass = "room"
)

// GlobalRoomID is the reserved room every connection joins and global
// messages are stored under.
const GlobalRoomID = "global"

// AllClasses lists the message classes in a stable order.
var AllClasses = []MessageClass{ClassDirect, ClassGlobal, ClassRoom}

func ParseMessageClass(s string) (MessageClass, error) {
	switch MessageClass(s) {
	case ClassDirect, ClassGlobal, ClassRoom:
		return MessageClass(s), nil
	}
	return "", fmt.Errorf("unknown message class %q", s)
}

// Target is the routing shape of a message: exactly one of RecipientID and
// RoomID is set.
type Target struct {
	RecipientID string `json:"recipientId,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
}

func DirectTarget(recipientID string) Target { return Target{RecipientID: recipientID} }

func RoomTarget(roomID string) Target { return Target{RoomID: roomID} }

func (t Target) IsDirect() bool { return t.RecipientID != "" }

func (t Target) String() string {
	if t.IsDirect() {
		return "user:" + t.RecipientID
	}
	return "room:" + t.RoomID
}

type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId,omitempty"`
	RoomID      string    `json:"roomId,omitempty"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (m *Message) Target() Target {
	return Target{RecipientID: m.RecipientID, RoomID: m.RoomID}
}
