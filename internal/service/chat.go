package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/protocol"
	"github.com/jrluiz96/roboteasy/internal/repository"
)

// StartChat finds or creates the client, then resumes its open conversation
// or opens a new one, and issues the client's realtime credential.
func (s *Service) StartChat(ctx context.Context, req domain.ChatStartRequest) (*domain.ChatStartResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	req.Email = normalizeOptional(req.Email, true)
	req.Phone = normalizeOptional(req.Phone, false)
	req.Cpf = normalizeOptional(req.Cpf, false)

	client, err := s.upsertClient(ctx, req)
	if err != nil {
		return nil, err
	}

	conv, created, err := s.start(ctx, client)
	if err != nil {
		return nil, err
	}

	token, _, err := s.issuer.IssueClientToken(client.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue client token: %w", err)
	}

	messages := []domain.Message{}
	if !created {
		if messages, err = s.store.ListMessages(ctx, conv.ID); err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
	}

	return &domain.ChatStartResponse{
		ClientID:          client.ID,
		ClientToken:       token,
		ConversationID:    conv.ID,
		IsNewConversation: created,
		Messages:          messages,
	}, nil
}

// Start resumes the client's open conversation or creates one in waiting.
// Only a newly created conversation is announced to attendants.
func (s *Service) Start(ctx context.Context, clientID int64) (*domain.Conversation, bool, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get client: %w", err)
	}
	if client == nil {
		return nil, false, ErrNotFound
	}
	return s.start(ctx, client)
}

func (s *Service) start(ctx context.Context, client *domain.Client) (*domain.Conversation, bool, error) {
	conv, created, err := s.store.OpenConversation(ctx, client.ID, s.now())
	if err != nil {
		return nil, false, fmt.Errorf("failed to open conversation: %w", err)
	}
	if !created {
		return conv, false, nil
	}

	s.started.Add(ctx, 1)
	s.logger.Info("conversation created",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("client_id", client.ID))
	s.broadcast(protocol.GroupAttendants, protocol.EventConversationCreated, protocol.ConversationCreatedPayload{
		ID:          conv.ID,
		ClientID:    client.ID,
		ClientName:  client.Name,
		ClientEmail: client.Email,
		CreatedAt:   conv.CreatedAt,
		Status:      domain.ConversationStatusWaiting,
	}, "")
	return conv, true, nil
}

func (s *Service) upsertClient(ctx context.Context, req domain.ChatStartRequest) (*domain.Client, error) {
	// A still-valid client token resumes the same client, with or without email.
	if req.ClientToken != "" && s.clients != nil {
		if id, err := s.clients.VerifyClient(req.ClientToken); err == nil {
			existing, err := s.store.GetClient(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to get client: %w", err)
			}
			if existing != nil && (req.Email == nil || sameEmail(existing.Email, req.Email)) {
				return s.refreshClient(ctx, existing, req)
			}
		}
	}

	if req.Email != nil {
		existing, err := s.store.GetClientByEmail(ctx, *req.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to get client by email: %w", err)
		}
		if existing != nil {
			return s.refreshClient(ctx, existing, req)
		}
	}

	client := &domain.Client{
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Cpf:       req.Cpf,
		CreatedAt: s.now(),
	}
	err := s.store.CreateClient(ctx, client)
	if errors.Is(err, repository.ErrConflict) && req.Email != nil {
		// Lost a race with a concurrent start for the same email.
		existing, getErr := s.store.GetClientByEmail(ctx, *req.Email)
		if getErr != nil {
			return nil, fmt.Errorf("failed to get client by email: %w", getErr)
		}
		if existing != nil {
			return s.refreshClient(ctx, existing, req)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

func (s *Service) refreshClient(ctx context.Context, client *domain.Client, req domain.ChatStartRequest) (*domain.Client, error) {
	client.Name = req.Name
	if req.Email != nil {
		client.Email = req.Email
	}
	if req.Phone != nil {
		client.Phone = req.Phone
	}
	if req.Cpf != nil {
		client.Cpf = req.Cpf
	}
	if err := s.store.UpdateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to update client: %w", err)
	}
	return client, nil
}

func normalizeOptional(v *string, lower bool) *string {
	if v == nil {
		return nil
	}
	out := strings.TrimSpace(*v)
	if out == "" {
		return nil
	}
	if lower {
		out = strings.ToLower(out)
	}
	return &out
}

func sameEmail(a, b *string) bool {
	return a != nil && b != nil && strings.EqualFold(*a, *b)
}
