package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/hub"
	"github.com/jrluiz96/roboteasy/internal/identity"
	"github.com/jrluiz96/roboteasy/internal/protocol"
	"github.com/jrluiz96/roboteasy/internal/ws"
)

var _ ws.ConnectionHandler = (*Service)(nil)

// OnConnect records presence and default subscriptions for a registered
// connection. Only the first connection of an attendant announces it online. Monitor connections join the attendants group but stay
// invisible to presence.
func (s *Service) OnConnect(ctx context.Context, conn *hub.Connection) error {
	switch {
	case conn.Identity.IsAttendant():
		if err := s.hub.Join(conn.ID, protocol.GroupAttendants); err != nil {
			return err
		}
		if conn.Monitor {
			s.logger.Info("monitor connected",
				zap.Int64("user_id", conn.Identity.UserID),
				zap.String("connection_id", conn.ID))
			return nil
		}
		if !s.presence.SetOnline(conn.Identity, conn.ID) {
			s.logger.Debug("attendant connection added",
				zap.Int64("user_id", conn.Identity.UserID),
				zap.String("connection_id", conn.ID))
			return nil
		}
		s.broadcast(protocol.GroupAttendants, protocol.EventUserOnline, protocol.UserOnlinePayload{
			UserID:       conn.Identity.UserID,
			ConnectionID: conn.ID,
		}, conn.ID)
		s.logger.Info("attendant online",
			zap.Int64("user_id", conn.Identity.UserID),
			zap.String("connection_id", conn.ID))

	case conn.Identity.IsClient():
		s.presence.SetOnline(conn.Identity, conn.ID)
		conv, err := s.store.GetOpenConversationByClient(ctx, conn.Identity.ClientID)
		if err != nil {
			s.logger.Warn("failed to load open conversation", zap.Int64("client_id", conn.Identity.ClientID), zap.Error(err))
			return nil
		}
		if conv != nil {
			if err := s.hub.Join(conn.ID, protocol.ConversationGroup(conv.ID)); err != nil {
				return err
			}
		}

	default:
		return identity.ErrUnauthenticated
	}
	return nil
}

// OnDisconnect clears presence. The last connection of an attendant leaving
// announces it offline.
func (s *Service) OnDisconnect(_ context.Context, conn *hub.Connection) {
	if conn.Monitor {
		s.logger.Info("monitor disconnected", zap.String("connection_id", conn.ID))
		return
	}
	last := s.presence.SetOffline(conn.Identity, conn.ID)
	if last && conn.Identity.IsAttendant() {
		s.broadcast(protocol.GroupAttendants, protocol.EventUserOffline, protocol.UserOfflinePayload{
			UserID: conn.Identity.UserID,
		}, conn.ID)
		s.logger.Info("attendant offline", zap.Int64("user_id", conn.Identity.UserID))
	}
}

// Handlers is the dispatch table for inbound operations.
func (s *Service) Handlers() map[string]ws.HandlerFunc {
	return map[string]ws.HandlerFunc{
		protocol.OpJoinConversation:  s.JoinConversation,
		protocol.OpLeaveConversation: s.LeaveConversation,
		protocol.OpSendMessage:       s.SendMessage,
		protocol.OpTyping:            s.Typing,
		protocol.OpStopTyping:        s.StopTyping,
		protocol.OpMarkAsRead:        s.MarkAsRead,
	}
}

// PushEvent broadcasts a raw event into a group on behalf of another backend process.
func (s *Service) PushEvent(group, event string, data json.RawMessage) error {
	if group == "" || event == "" {
		return fmt.Errorf("%w: group and event are required", ErrInvalidInput)
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return s.hub.Broadcast(group, event, data, "")
}

// Presence returns the most recent live connection of an attendant.
func (s *Service) Presence(userID int64) (string, bool) {
	return s.presence.IsOnline(domain.AttendantIdentity(userID))
}

// OnlineAttendants lists attendants with a live non-monitor connection.
func (s *Service) OnlineAttendants() []int64 {
	return s.presence.OnlineAttendants()
}
