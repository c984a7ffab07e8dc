// Package ws provides WebSocket server functionality for attendant and client connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/hub"
	"github.com/jrluiz96/roboteasy/internal/identity"
	"github.com/jrluiz96/roboteasy/internal/policy"
	"github.com/jrluiz96/roboteasy/internal/protocol"
	"github.com/jrluiz96/roboteasy/internal/repository"
)

// Resolver turns connection credentials into an identity.
type Resolver interface {
	Resolve(creds identity.Credentials) (identity.Resolved, error)
}

// Options configures the WebSocket server.
type Options struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	// OpTimeout bounds each inbound operation.
	OpTimeout   time.Duration
	CheckOrigin func(r *http.Request) bool
	Logger      *zap.Logger
}

func (o *Options) setDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 65536
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 10 * time.Second
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Server handles WebSocket connections.
type Server struct {
	opts     Options
	hub      *hub.Hub
	resolver Resolver
	handler  ConnectionHandler
	handlers map[string]HandlerFunc
	logger   *zap.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closing bool
	live    map[string]func()
	wg      sync.WaitGroup
}

// NewServer creates a new WebSocket server.
func NewServer(opts Options, h *hub.Hub, resolver Resolver, handler ConnectionHandler) *Server {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:     opts,
		hub:      h,
		resolver: resolver,
		handler:  handler,
		handlers: handler.Handlers(),
		logger:   opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
		live:   make(map[string]func()),
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	s.ServeHTTP(c.Response(), c.Request())
	return nil
}

// ServeHTTP upgrades the request, resolves the caller and starts the pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isClosing() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	// Resolve before registering: an unauthenticated socket never reaches
	// presence or any group.
	resolved, err := s.resolver.Resolve(identity.CredentialsFromRequest(r))
	if err != nil {
		s.logger.Info("websocket rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		s.reject(ws, websocket.ClosePolicyViolation, "unauthorized")
		return
	}

	// Both pump slots are reserved under the lock that Shutdown takes before
	// waiting, so a handshake is either counted or refused.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.reject(ws, websocket.CloseGoingAway, "shutting down")
		return
	}
	s.wg.Add(2)
	s.mu.Unlock()

	conn := s.hub.NewConnection(ws, resolved.Identity, resolved.Monitor)
	s.hub.Register(conn)

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.hub.Unregister(conn)
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.OpTimeout)
			s.handler.OnDisconnect(ctx, conn)
			cancel()

			s.mu.Lock()
			delete(s.live, conn.ID)
			s.mu.Unlock()
			s.logger.Info("connection closed",
				zap.String("connection_id", conn.ID),
				zap.Stringer("identity", conn.Identity))
		})
	}
	abort := func() {
		release()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(s.opts.WriteTimeout))
		_ = conn.Close()
		s.wg.Add(-2)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.OpTimeout)
	err = s.handler.OnConnect(ctx, conn)
	cancel()
	if err != nil {
		s.logger.Warn("connect hook failed", zap.String("connection_id", conn.ID), zap.Error(err))
		abort()
		return
	}

	// Shutdown only sees connections whose connect hook has completed.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		abort()
		return
	}
	s.live[conn.ID] = release
	s.mu.Unlock()

	s.logger.Info("connection opened",
		zap.String("connection_id", conn.ID),
		zap.Stringer("identity", conn.Identity),
		zap.Bool("monitor", conn.Monitor))

	ws.SetReadLimit(s.opts.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn, release)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// reject closes a socket that never got registered.
func (s *Server) reject(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.opts.WriteTimeout))
	_ = ws.Close()
}

// readPump reads operations from the WebSocket connection, one at a time.
func (s *Server) readPump(conn *hub.Connection, release func()) {
	defer s.wg.Done()
	defer release()

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
		s.handleMessage(conn, message)
	}
}

// writePump drains the connection's send queue and keeps it alive with pings.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		// Closing the socket unblocks the read pump.
		_ = conn.Close()
		s.wg.Done()
	}()

	for {
		select {
		case message := <-conn.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("websocket write failed", zap.String("connection_id", conn.ID), zap.Error(err))
				return
			}

		case <-conn.Done():
			// Released or evicted as a slow consumer.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(s.opts.WriteTimeout))
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches an inbound frame to its operation handler.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError(conn, "", protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	h, ok := s.handlers[req.Type]
	if !ok {
		s.sendError(conn, req.RequestID, protocol.ErrorCodeUnknownOperation, "unknown operation: "+req.Type)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.OpTimeout)
	defer cancel()
	if err := h(ctx, conn, req); err != nil {
		code := ErrorCode(err)
		msg := err.Error()
		if code == protocol.ErrorCodeInternalError {
			s.logger.Error("operation failed",
				zap.String("operation", req.Type),
				zap.String("connection_id", conn.ID),
				zap.Error(err))
			msg = "internal error"
		}
		s.sendError(conn, req.RequestID, code, msg)
	}
}

// ErrorCode maps an operation error to the code sent in the error frame.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, policy.ErrDenied):
		return protocol.ErrorCodeForbidden
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrUserNotFound):
		return protocol.ErrorCodeNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return protocol.ErrorCodeInvalidMessage
	default:
		return protocol.ErrorCodeInternalError
	}
}

// sendError sends an error frame to the caller only.
func (s *Server) sendError(conn *hub.Connection, requestID, code, message string) {
	err := s.hub.SendDirect(conn.ID, protocol.EventError, protocol.ErrorPayload{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
	if err != nil {
		s.logger.Debug("error frame dropped", zap.String("connection_id", conn.ID), zap.Error(err))
	}
}

// ConnectionCount returns the number of live sockets served by this server.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown refuses new sockets, releases every live connection and waits for
// the pumps and in-flight handshakes to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	releases := make([]func(), 0, len(s.live))
	for _, release := range s.live {
		releases = append(releases, release)
	}
	s.mu.Unlock()
	s.cancel()

	for _, release := range releases {
		release()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
