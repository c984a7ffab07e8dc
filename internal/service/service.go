// Package service implements the conversation routing engine.
package service

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/identity"
	"github.com/jrluiz96/roboteasy/internal/policy"
	"github.com/jrluiz96/roboteasy/internal/presence"
	"github.com/jrluiz96/roboteasy/internal/repository"
)

var (
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = domain.ErrInvalidInput
	// ErrNotFound is returned for absent or finished conversations and
	// missing participations.
	ErrNotFound = repository.ErrNotFound
	// ErrUserNotFound is returned when an invited attendant does not exist.
	ErrUserNotFound = repository.ErrUserNotFound
)

// Broadcaster is the group membership table the engine emits through.
type Broadcaster interface {
	Join(connID, group string) error
	Leave(connID, group string)
	IsMember(connID, group string) bool
	Broadcast(group, event string, payload any, excludeConnID string) error
	SendDirect(connID, event string, payload any) error
}

// Service is the single coordinator shared by every connection and request.
type Service struct {
	store    repository.Store
	hub      Broadcaster
	presence *presence.Registry
	policy   *policy.Engine
	issuer   *identity.Issuer
	clients  identity.ClientVerifier
	logger   *zap.Logger
	now      func() time.Time

	started     metric.Int64Counter
	messages    metric.Int64Counter
	transitions metric.Int64Counter
}

// New creates the routing engine.
func New(store repository.Store, hub Broadcaster, registry *presence.Registry, policyEngine *policy.Engine,
	issuer *identity.Issuer, clients identity.ClientVerifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		hub:      hub,
		presence: registry,
		policy:   policyEngine,
		issuer:   issuer,
		clients:  clients,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}

	s.SetMeterProvider(otel.GetMeterProvider())
	return s
}

// SetMeterProvider rebuilds the routing counters on mp.
func (s *Service) SetMeterProvider(mp metric.MeterProvider) {
	meter := mp.Meter("chathub/service")
	s.started, _ = meter.Int64Counter("conversations_started_total",
		metric.WithDescription("Conversations created by chat start"))
	s.messages, _ = meter.Int64Counter("messages_sent_total",
		metric.WithDescription("Messages persisted and broadcast"))
	s.transitions, _ = meter.Int64Counter("conversation_transitions_total",
		metric.WithDescription("Visible conversation status transitions"))
}

// SetClock overrides the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}
