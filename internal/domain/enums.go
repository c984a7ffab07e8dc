// Package domain defines the core domain models for the chat hub.
package domain

import (
	"fmt"
	"strings"
)

// ConversationStatus is the visible state of a conversation.
type ConversationStatus string

const (
	ConversationStatusWaiting  ConversationStatus = "waiting"
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusFinished ConversationStatus = "finished"
)

// MessageType represents the kind of content a message carries.
// Stored as an integer, serialized as its lowercase name.
type MessageType int

const (
	MessageTypeText   MessageType = 1
	MessageTypeImage  MessageType = 2
	MessageTypeFile   MessageType = 3
	MessageTypeAudio  MessageType = 4
	MessageTypeVideo  MessageType = 5
	MessageTypeSystem MessageType = 6
)

var messageTypeNames = map[MessageType]string{
	MessageTypeText:   "text",
	MessageTypeImage:  "image",
	MessageTypeFile:   "file",
	MessageTypeAudio:  "audio",
	MessageTypeVideo:  "video",
	MessageTypeSystem: "system",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (t MessageType) MarshalText() ([]byte, error) {
	name, ok := messageTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown message type %d", int(t))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MessageType) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	for k, v := range messageTypeNames {
		if v == s {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown message type %q", s)
}

// IdentityKind tags which side of a conversation an identity belongs to.
type IdentityKind int

const (
	IdentityUnknown IdentityKind = iota
	IdentityAttendant
	IdentityClient
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityAttendant:
		return "attendant"
	case IdentityClient:
		return "client"
	default:
		return "unknown"
	}
}
