package ws

import (
	"context"

	"github.com/jrluiz96/roboteasy/internal/hub"
	"github.com/jrluiz96/roboteasy/internal/protocol"
)

// HandlerFunc processes one inbound operation for a connection.
type HandlerFunc func(ctx context.Context, conn *hub.Connection, req protocol.Request) error

// ConnectionHandler receives the lifecycle and the operations of every
// authenticated connection.
type ConnectionHandler interface {
	// OnConnect runs after the connection is registered with the hub.
	// An error closes the connection.
	OnConnect(ctx context.Context, conn *hub.Connection) error
	// OnDisconnect runs exactly once, after the hub released the connection.
	OnDisconnect(ctx context.Context, conn *hub.Connection)
	// Handlers maps operation names to their handler.
	Handlers() map[string]HandlerFunc
}
