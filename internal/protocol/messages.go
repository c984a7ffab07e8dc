// Package protocol defines the WebSocket message protocol between clients and the hub.
package protocol

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/jrluiz96/roboteasy/internal/domain"
)

// Operations from client to hub
const (
	OpJoinConversation  = "JoinConversation"
	OpLeaveConversation = "LeaveConversation"
	OpSendMessage       = "SendMessage"
	OpTyping            = "Typing"
	OpStopTyping        = "StopTyping"
	OpMarkAsRead        = "MarkAsRead"
)

// Events from hub to client
const (
	EventUserOnline           = "user:online"
	EventUserOffline          = "user:offline"
	EventMessageReceive       = "message:receive"
	EventTypingStart          = "typing:start"
	EventTypingStop           = "typing:stop"
	EventMessageRead          = "message:read"
	EventConversationCreated  = "conversation:created"
	EventConversationInvited  = "conversation:invited"
	EventConversationFinished = "conversation:finished"
	EventConversationStatus   = "conversation:status"
	EventAttendantLeft        = "attendant:left"
	EventError                = "error"
)

// GroupAttendants holds every live attendant connection.
const GroupAttendants = "attendants"

// ConversationGroup returns the group name of a conversation.
func ConversationGroup(conversationID int64) string {
	return "conversation:" + strconv.FormatInt(conversationID, 10)
}

// Frame is the envelope of every outbound message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ts    int64           `json:"ts"`
}

// Encode marshals payload into a frame for event.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data, Ts: time.Now().UnixMilli()})
}

// Request is an inbound operation. Fields beyond Type are operation specific.
type Request struct {
	Type           string             `json:"type"`
	RequestID      string             `json:"requestId,omitempty"`
	ConversationID int64              `json:"conversationId,omitempty"`
	Content        string             `json:"content,omitempty"`
	MessageType    domain.MessageType `json:"messageType,omitempty"`
	FileURL        *string            `json:"fileUrl,omitempty"`
	FileName       *string            `json:"fileName,omitempty"`
	FileSize       *int64             `json:"fileSize,omitempty"`
	LastMessageID  *int64             `json:"lastMessageId,omitempty"`
}

// UserOnlinePayload announces an attendant connection.
type UserOnlinePayload struct {
	UserID       int64  `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// UserOfflinePayload announces that an attendant has no live connection left.
type UserOfflinePayload struct {
	UserID int64 `json:"userId"`
}

// TypingPayload is sent for typing:start and typing:stop.
type TypingPayload struct {
	ConversationID int64  `json:"conversationId"`
	UserID         *int64 `json:"userId"`
	ClientID       *int64 `json:"clientId"`
}

// MessageReadPayload is a read receipt.
type MessageReadPayload struct {
	ConversationID int64  `json:"conversationId"`
	UserID         *int64 `json:"userId"`
	ClientID       *int64 `json:"clientId"`
	LastMessageID  *int64 `json:"lastMessageId"`
}

// ConversationCreatedPayload tells attendants a new conversation is waiting.
type ConversationCreatedPayload struct {
	ID          int64                     `json:"id"`
	ClientID    int64                     `json:"clientId"`
	ClientName  string                    `json:"clientName"`
	ClientEmail *string                   `json:"clientEmail"`
	CreatedAt   time.Time                 `json:"createdAt"`
	Status      domain.ConversationStatus `json:"status"`
}

// ConversationInvitedPayload is sent to the invitee and the conversation group.
type ConversationInvitedPayload struct {
	ConversationID int64 `json:"conversationId"`
	InvitedUserID  int64 `json:"invitedUserId"`
}

// ConversationFinishedPayload is sent when a conversation reaches its terminal state.
type ConversationFinishedPayload struct {
	ConversationID int64 `json:"conversationId"`
}

// ConversationStatusPayload reports a visible status transition.
type ConversationStatusPayload struct {
	ConversationID int64                     `json:"conversationId"`
	Status         domain.ConversationStatus `json:"status"`
	UserID         *int64                    `json:"userId,omitempty"`
}

// AttendantLeftPayload is sent when an attendant ends its participation.
type AttendantLeftPayload struct {
	ConversationID int64  `json:"conversationId"`
	UserID         int64  `json:"userId"`
	UserName       string `json:"userName"`
}

// ErrorPayload is sent to the caller when an operation is rejected.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Error codes
const (
	ErrorCodeInvalidMessage   = "invalid_message"
	ErrorCodeUnknownOperation = "unknown_operation"
	ErrorCodeForbidden        = "forbidden"
	ErrorCodeNotFound         = "not_found"
	ErrorCodeInternalError    = "internal_error"
)
