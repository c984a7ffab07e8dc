package service

import (
	"context"
	"fmt"

	"github.com/jrluiz96/roboteasy/internal/domain"
)

// ViewAll lists every active conversation instead of the caller's queue.
const ViewAll = "all"

// ListConversations returns the waiting conversations plus the ones userID
// actively participates in. With ViewAll it returns every active conversation.
func (s *Service) ListConversations(ctx context.Context, userID int64, view string) ([]domain.ConversationSummary, error) {
	var (
		list []domain.ConversationSummary
		err  error
	)
	switch view {
	case "":
		list, err = s.store.ListVisibleConversations(ctx, userID)
	case ViewAll:
		list, err = s.store.ListActiveConversations(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown view %q", ErrInvalidInput, view)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return list, nil
}

// History returns finished conversations, most recently finished first.
func (s *Service) History(ctx context.Context) ([]domain.ConversationSummary, error) {
	list, err := s.store.ListFinishedConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return list, nil
}

// Conversation returns a conversation with its messages and active attendants.
func (s *Service) Conversation(ctx context.Context, conversationID int64) (*domain.ConversationDetail, error) {
	detail, err := s.store.GetConversationDetail(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if detail == nil {
		return nil, ErrNotFound
	}
	return detail, nil
}

// Messages returns the ordered message log of a conversation.
func (s *Service) Messages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
