// Package rpc exposes the hub to other backend processes over JSON-RPC.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/service"
)

// Server exposes hub RPC endpoints.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *zap.Logger
	done      chan struct{}
}

// NewServer creates a new hub RPC server.
func NewServer(svc *service.Service, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc, logger: logger}
	if err := rpcServer.RegisterName("Hub", handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Listen binds the server to addr. Serve must be called to accept connections.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts RPC connections until Shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("rpc server is not listening")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept error", zap.Error(err))
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements hub RPC methods.
type Handler struct {
	service *service.Service
	logger  *zap.Logger
}

// PushEventRequest asks the hub to broadcast an event into a group.
type PushEventRequest struct {
	Group string          `json:"group"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// AckResponse is a generic OK response.
type AckResponse struct {
	OK bool `json:"ok"`
}

// PresenceRequest identifies an attendant.
type PresenceRequest struct {
	UserID int64 `json:"userId"`
}

// PresenceResponse reports whether the attendant has a live connection.
type PresenceResponse struct {
	Online       bool   `json:"online"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// OnlineResponse lists online attendants.
type OnlineResponse struct {
	UserIDs []int64 `json:"userIds"`
}

// PushEvent forwards an event from another backend process to a group.
func (h *Handler) PushEvent(req *PushEventRequest, resp *AckResponse) error {
	if req == nil {
		return errors.New("push request is required")
	}
	if err := h.service.PushEvent(req.Group, req.Event, req.Data); err != nil {
		return err
	}
	h.logger.Debug("event pushed", zap.String("group", req.Group), zap.String("event", req.Event))
	resp.OK = true
	return nil
}

// Presence reports an attendant's presence.
func (h *Handler) Presence(req *PresenceRequest, resp *PresenceResponse) error {
	if req == nil || req.UserID <= 0 {
		return errors.New("userId is required")
	}
	resp.ConnectionID, resp.Online = h.service.Presence(req.UserID)
	return nil
}

// Online lists attendants with a live connection.
func (h *Handler) Online(_ *struct{}, resp *OnlineResponse) error {
	resp.UserIDs = h.service.OnlineAttendants()
	return nil
}
