// Package repository defines the conversation directory and its SQL implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jrluiz96/roboteasy/internal/domain"
)

var (
	// ErrNotFound is returned when a conversation or participation is absent,
	// or when a conversation is already finished.
	ErrNotFound = errors.New("not found")
	// ErrUserNotFound is returned when an attendant id does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrConflict is returned on unique constraint violations.
	ErrConflict = errors.New("conflict")
)

// Store is the persistence collaborator consumed by the routing engine.
// Every mutation on a conversation runs in a transaction that serializes
// writers on that conversation.
type Store interface {
	// Client operations
	CreateClient(ctx context.Context, client *domain.Client) error
	UpdateClient(ctx context.Context, client *domain.Client) error
	GetClient(ctx context.Context, clientID int64) (*domain.Client, error)
	GetClientByEmail(ctx context.Context, email string) (*domain.Client, error)

	// User operations
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID int64) (*domain.User, error)

	// Conversation operations
	OpenConversation(ctx context.Context, clientID int64, now time.Time) (*domain.Conversation, bool, error)
	GetOpenConversationByClient(ctx context.Context, clientID int64) (*domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (*domain.Conversation, error)
	GetConversationDetail(ctx context.Context, conversationID int64) (*domain.ConversationDetail, error)
	ListVisibleConversations(ctx context.Context, userID int64) ([]domain.ConversationSummary, error)
	ListActiveConversations(ctx context.Context) ([]domain.ConversationSummary, error)
	ListFinishedConversations(ctx context.Context) ([]domain.ConversationSummary, error)
	FinishConversation(ctx context.Context, conversationID int64, now time.Time) (*domain.Conversation, error)

	// Participation operations
	AddParticipant(ctx context.Context, conversationID, userID int64, now time.Time) (domain.JoinResult, error)
	EndParticipation(ctx context.Context, conversationID, userID int64, now time.Time) (domain.LeaveResult, error)
	HasActiveParticipation(ctx context.Context, conversationID, userID int64) (bool, error)
	ActiveParticipants(ctx context.Context, conversationID int64) ([]domain.Attendant, error)

	// Message operations
	AppendMessage(ctx context.Context, message *domain.Message) (*domain.AppendResult, error)
	ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
