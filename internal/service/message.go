package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/hub"
	"github.com/jrluiz96/roboteasy/internal/policy"
	"github.com/jrluiz96/roboteasy/internal/protocol"
)

func (s *Service) authorize(ctx context.Context, conn *hub.Connection, op string, conversationID int64, conv *domain.Conversation) error {
	if s.policy == nil {
		return nil
	}
	in := policy.Input{
		Operation: op,
		Identity: policy.Subject{
			Kind:     conn.Identity.Kind.String(),
			UserID:   conn.Identity.UserID,
			ClientID: conn.Identity.ClientID,
		},
		Monitor: conn.Monitor,
		Member:  s.hub.IsMember(conn.ID, protocol.ConversationGroup(conversationID)),
	}
	if conv != nil {
		in.Conversation = &policy.Target{ID: conv.ID, ClientID: conv.ClientID}
	}
	return s.policy.Authorize(ctx, in)
}

// SendMessage persists a message from the connection's identity and
// broadcasts it to the conversation group. Messages addressed to absent or
// finished conversations are dropped without any event.
func (s *Service) SendMessage(ctx context.Context, conn *hub.Connection, req protocol.Request) error {
	if req.ConversationID <= 0 {
		return fmt.Errorf("%w: conversationId is required", ErrInvalidInput)
	}
	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil || conv.IsFinished() {
		s.logger.Debug("message dropped",
			zap.Int64("conversation_id", req.ConversationID),
			zap.String("connection_id", conn.ID))
		return nil
	}
	if err := s.authorize(ctx, conn, protocol.OpSendMessage, conv.ID, conv); err != nil {
		return err
	}

	msgType := req.MessageType
	if msgType == 0 {
		msgType = domain.MessageTypeText
	}
	if !msgType.Valid() || msgType == domain.MessageTypeSystem {
		return fmt.Errorf("%w: unsupported message type", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Content) == "" && req.FileURL == nil {
		return fmt.Errorf("%w: content is required", ErrInvalidInput)
	}

	res, err := s.store.AppendMessage(ctx, &domain.Message{
		ConversationID: conv.ID,
		UserID:         conn.Identity.UserIDPtr(),
		ClientID:       conn.Identity.ClientIDPtr(),
		Type:           msgType,
		Content:        req.Content,
		FileURL:        req.FileURL,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		CreatedAt:      s.now(),
	})
	if errors.Is(err, ErrNotFound) {
		// Finished between the read above and the write.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	group := protocol.ConversationGroup(conv.ID)
	if err := s.hub.Join(conn.ID, group); err != nil {
		s.logger.Debug("sender not subscribed", zap.String("connection_id", conn.ID), zap.Error(err))
	}
	if res.Joined.Added {
		s.subscribeAttendant(conn.Identity.UserID, conv.ID)
		if res.Joined.Activated {
			userID := conn.Identity.UserID
			s.emitStatus(ctx, conv.ID, domain.ConversationStatusActive, &userID)
		}
	}

	s.messages.Add(ctx, 1)
	s.broadcast(group, protocol.EventMessageReceive, res.Message, "")
	return nil
}

// Typing tells the others in the conversation that the caller is typing.
func (s *Service) Typing(ctx context.Context, conn *hub.Connection, req protocol.Request) error {
	return s.signal(ctx, conn, req, protocol.OpTyping, protocol.EventTypingStart)
}

// StopTyping tells the others in the conversation that the caller stopped typing.
func (s *Service) StopTyping(ctx context.Context, conn *hub.Connection, req protocol.Request) error {
	return s.signal(ctx, conn, req, protocol.OpStopTyping, protocol.EventTypingStop)
}

func (s *Service) signal(ctx context.Context, conn *hub.Connection, req protocol.Request, op, event string) error {
	if req.ConversationID <= 0 {
		return fmt.Errorf("%w: conversationId is required", ErrInvalidInput)
	}
	if err := s.authorize(ctx, conn, op, req.ConversationID, nil); err != nil {
		return err
	}
	s.broadcast(protocol.ConversationGroup(req.ConversationID), event, protocol.TypingPayload{
		ConversationID: req.ConversationID,
		UserID:         conn.Identity.UserIDPtr(),
		ClientID:       conn.Identity.ClientIDPtr(),
	}, conn.ID)
	return nil
}

// MarkAsRead relays a read receipt to the others in the conversation.
func (s *Service) MarkAsRead(ctx context.Context, conn *hub.Connection, req protocol.Request) error {
	if req.ConversationID <= 0 {
		return fmt.Errorf("%w: conversationId is required", ErrInvalidInput)
	}
	if err := s.authorize(ctx, conn, protocol.OpMarkAsRead, req.ConversationID, nil); err != nil {
		return err
	}
	s.broadcast(protocol.ConversationGroup(req.ConversationID), protocol.EventMessageRead, protocol.MessageReadPayload{
		ConversationID: req.ConversationID,
		UserID:         conn.Identity.UserIDPtr(),
		ClientID:       conn.Identity.ClientIDPtr(),
		LastMessageID:  req.LastMessageID,
	}, conn.ID)
	return nil
}

// JoinConversation subscribes the connection to a conversation group.
// It does not create a participation.
func (s *Service) JoinConversation(ctx context.Context, conn *hub.Connection, req protocol.Request) error {
	if req.ConversationID <= 0 {
		return fmt.Errorf("%w: conversationId is required", ErrInvalidInput)
	}
	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return ErrNotFound
	}
	if err := s.authorize(ctx, conn, protocol.OpJoinConversation, conv.ID, conv); err != nil {
		return err
	}
	return s.hub.Join(conn.ID, protocol.ConversationGroup(conv.ID))
}

// LeaveConversation unsubscribes the connection from a conversation group.
func (s *Service) LeaveConversation(ctx context.Context, conn *hub.Connection, req protocol.Request) error {
	if req.ConversationID <= 0 {
		return fmt.Errorf("%w: conversationId is required", ErrInvalidInput)
	}
	if err := s.authorize(ctx, conn, protocol.OpLeaveConversation, req.ConversationID, nil); err != nil {
		return err
	}
	s.hub.Leave(conn.ID, protocol.ConversationGroup(req.ConversationID))
	return nil
}
