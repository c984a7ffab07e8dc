package domain

import (
	"time"
)

// Client is an external end user who opens conversations.
type Client struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Email     *string    `json:"email,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	Cpf       *string    `json:"cpf,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// User is an attendant as seen by the hub: enough to resolve display names.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	AvatarURL *string   `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation is a chat between one client and any number of attendants.
type Conversation struct {
	ID         int64      `json:"id"`
	ClientID   int64      `json:"clientId"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt"`
	// AttendanceTime is finished_at - created_at in whole seconds.
	AttendanceTime *int64 `json:"attendanceTime"`
}

// IsFinished reports whether the conversation reached its terminal state.
func (c *Conversation) IsFinished() bool {
	return c.FinishedAt != nil
}

// Participation links an attendant to a conversation for a period of time.
type Participation struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"userId"`
	ConversationID int64      `json:"conversationId"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt"`
}

// Active reports whether the participation is still open.
func (p *Participation) Active() bool {
	return p.FinishedAt == nil
}

// Message is a single append-only entry of a conversation.
// Exactly one of UserID and ClientID is set, except for system messages.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversationId"`
	UserID         *int64      `json:"userId"`
	ClientID       *int64      `json:"clientId"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	SenderName     string      `json:"senderName"`
	FileURL        *string     `json:"fileUrl"`
	FileName       *string     `json:"fileName,omitempty"`
	FileSize       *int64      `json:"fileSize,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Attendant is a participant entry in conversation listings.
type Attendant struct {
	UserID    int64   `json:"userId"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
}

// ConversationSummary is one row of a conversation listing.
type ConversationSummary struct {
	ID            int64              `json:"id"`
	ClientID      int64              `json:"clientId"`
	ClientName    string             `json:"clientName"`
	ClientEmail   *string            `json:"clientEmail"`
	LastMessage   *string            `json:"lastMessage"`
	LastMessageAt *time.Time         `json:"lastMessageAt"`
	MessageCount  int                `json:"messageCount"`
	CreatedAt     time.Time          `json:"createdAt"`
	FinishedAt    *time.Time         `json:"finishedAt"`
	Status        ConversationStatus `json:"status"`
	Attendants    []Attendant        `json:"attendants"`
}

// ConversationDetail is a conversation with its full message history.
type ConversationDetail struct {
	ID             int64              `json:"id"`
	ClientID       int64              `json:"clientId"`
	ClientName     string             `json:"clientName"`
	ClientEmail    *string            `json:"clientEmail"`
	ClientPhone    *string            `json:"clientPhone"`
	CreatedAt      time.Time          `json:"createdAt"`
	FinishedAt     *time.Time         `json:"finishedAt"`
	AttendanceTime *int64             `json:"attendanceTime"`
	Status         ConversationStatus `json:"status"`
	Messages       []Message          `json:"messages"`
	Attendants     []Attendant        `json:"attendants"`
}

// ResolveStatus derives the visible status from the finish flag and the
// number of active participations.
func ResolveStatus(finished bool, activeParticipants int) ConversationStatus {
	if finished {
		return ConversationStatusFinished
	}
	if activeParticipants > 0 {
		return ConversationStatusActive
	}
	return ConversationStatusWaiting
}
