package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/protocol"
)

// Join adds userID as an active participant. A redundant join is a silent
// success. The first participant moves the conversation from waiting to active.
func (s *Service) Join(ctx context.Context, conversationID, userID int64) (domain.JoinResult, error) {
	res, err := s.store.AddParticipant(ctx, conversationID, userID, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUserNotFound) {
			return res, err
		}
		return res, fmt.Errorf("failed to join conversation: %w", err)
	}
	if !res.Added {
		return res, nil
	}

	s.subscribeAttendant(userID, conversationID)
	if res.Activated {
		s.emitStatus(ctx, conversationID, domain.ConversationStatusActive, &userID)
	}
	s.logger.Info("attendant joined",
		zap.Int64("conversation_id", conversationID),
		zap.Int64("user_id", userID),
		zap.Bool("activated", res.Activated))
	return res, nil
}

// Invite adds invitedUserID as a participant on their behalf and notifies them
// directly when online and through the conversation group. A redundant invite
// is a silent success.
func (s *Service) Invite(ctx context.Context, conversationID, invitedUserID int64) (domain.JoinResult, error) {
	res, err := s.store.AddParticipant(ctx, conversationID, invitedUserID, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUserNotFound) {
			return res, err
		}
		return res, fmt.Errorf("failed to invite attendant: %w", err)
	}
	if !res.Added {
		return res, nil
	}

	payload := protocol.ConversationInvitedPayload{
		ConversationID: conversationID,
		InvitedUserID:  invitedUserID,
	}
	direct := ""
	if connID, ok := s.presence.IsOnline(domain.AttendantIdentity(invitedUserID)); ok {
		direct = connID
		s.sendDirect(connID, protocol.EventConversationInvited, payload)
	}
	s.broadcast(protocol.ConversationGroup(conversationID), protocol.EventConversationInvited, payload, direct)
	s.subscribeAttendant(invitedUserID, conversationID)

	if res.Activated {
		s.emitStatus(ctx, conversationID, domain.ConversationStatusActive, &invitedUserID)
	}
	s.logger.Info("attendant invited",
		zap.Int64("conversation_id", conversationID),
		zap.Int64("user_id", invitedUserID),
		zap.Bool("online", direct != ""))
	return res, nil
}

// Leave ends userID's active participation. The conversation itself stays
// open and reverts to waiting when nobody is left.
func (s *Service) Leave(ctx context.Context, conversationID, userID int64) (domain.LeaveResult, error) {
	res, err := s.store.EndParticipation(ctx, conversationID, userID, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return res, err
		}
		return res, fmt.Errorf("failed to leave conversation: %w", err)
	}

	s.broadcast(protocol.ConversationGroup(conversationID), protocol.EventAttendantLeft, protocol.AttendantLeftPayload{
		ConversationID: conversationID,
		UserID:         userID,
		UserName:       res.UserName,
	}, "")
	s.unsubscribeAttendant(userID, conversationID)

	if res.Remaining == 0 && !res.Finished {
		s.emitStatus(ctx, conversationID, domain.ConversationStatusWaiting, nil)
	}
	s.logger.Info("attendant left",
		zap.Int64("conversation_id", conversationID),
		zap.Int64("user_id", userID),
		zap.Int("remaining", res.Remaining))
	return res, nil
}

// Finish closes the conversation for good. Finishing an absent or already
// finished conversation returns ErrNotFound.
func (s *Service) Finish(ctx context.Context, conversationID int64) (*domain.Conversation, error) {
	conv, err := s.store.FinishConversation(ctx, conversationID, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to finish conversation: %w", err)
	}

	s.broadcast(protocol.ConversationGroup(conversationID), protocol.EventConversationFinished, protocol.ConversationFinishedPayload{
		ConversationID: conversationID,
	}, "")
	s.emitStatus(ctx, conversationID, domain.ConversationStatusFinished, nil)

	var attendance int64
	if conv.AttendanceTime != nil {
		attendance = *conv.AttendanceTime
	}
	s.logger.Info("conversation finished",
		zap.Int64("conversation_id", conversationID),
		zap.Int64("attendance_seconds", attendance))
	return conv, nil
}
