package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/protocol"
)

// broadcast is best effort: persisted state is never rolled back because
// fan-out failed.
func (s *Service) broadcast(group, event string, payload any, exclude string) {
	if err := s.hub.Broadcast(group, event, payload, exclude); err != nil {
		s.logger.Warn("broadcast failed",
			zap.String("group", group),
			zap.String("event", event),
			zap.Error(err))
	}
}

func (s *Service) sendDirect(connID, event string, payload any) {
	if err := s.hub.SendDirect(connID, event, payload); err != nil {
		s.logger.Warn("direct send failed",
			zap.String("connection_id", connID),
			zap.String("event", event),
			zap.Error(err))
	}
}

func (s *Service) emitStatus(ctx context.Context, conversationID int64, status domain.ConversationStatus, userID *int64) {
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	s.broadcast(protocol.GroupAttendants, protocol.EventConversationStatus, protocol.ConversationStatusPayload{
		ConversationID: conversationID,
		Status:         status,
		UserID:         userID,
	}, "")
}

// subscribeAttendant adds the attendant's live, non-monitor connections to the
// conversation group.
func (s *Service) subscribeAttendant(userID, conversationID int64) {
	group := protocol.ConversationGroup(conversationID)
	for _, connID := range s.presence.Connections(domain.AttendantIdentity(userID)) {
		if err := s.hub.Join(connID, group); err != nil {
			s.logger.Debug("subscribe skipped", zap.String("connection_id", connID), zap.Error(err))
		}
	}
}

func (s *Service) unsubscribeAttendant(userID, conversationID int64) {
	group := protocol.ConversationGroup(conversationID)
	for _, connID := range s.presence.Connections(domain.AttendantIdentity(userID)) {
		s.hub.Leave(connID, group)
	}
}
