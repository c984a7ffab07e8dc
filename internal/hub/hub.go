// Package hub provides connection management and group fan-out for WebSocket clients.
package hub

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/fanout"
	"github.com/jrluiz96/roboteasy/internal/protocol"
)

var (
	// ErrBufferFull is returned when a connection's send buffer is full.
	// The connection is closed when this happens.
	ErrBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed is returned for operations on a released connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrConnectionNotFound is returned when a connection id is unknown.
	ErrConnectionNotFound = errors.New("connection not found")
)

const shardCount = 32

type connShard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

type groupShard struct {
	mu     sync.RWMutex
	groups map[string]map[string]*Connection
}

// Options configures a Hub.
type Options struct {
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// Relay carries broadcasts to other instances. Nil keeps fan-out local.
	Relay  fanout.Relay
	Logger *zap.Logger
	// MeterProvider defaults to the global provider.
	MeterProvider metric.MeterProvider
}

// Hub manages all WebSocket connections and their group memberships.
type Hub struct {
	instanceID string
	sendBuffer int
	relay      fanout.Relay
	logger     *zap.Logger

	conns  [shardCount]*connShard
	groups [shardCount]*groupShard

	broadcasts metric.Int64Counter
	evictions  metric.Int64Counter
	active     metric.Int64UpDownCounter
}

// NewHub creates a new Hub.
func NewHub(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}
	h := &Hub{
		instanceID: uuid.New().String(),
		sendBuffer: opts.SendBuffer,
		relay:      opts.Relay,
		logger:     opts.Logger,
	}
	for i := 0; i < shardCount; i++ {
		h.conns[i] = &connShard{conns: make(map[string]*Connection)}
		h.groups[i] = &groupShard{groups: make(map[string]map[string]*Connection)}
	}

	meter := opts.MeterProvider.Meter("chathub/hub")
	h.broadcasts, _ = meter.Int64Counter("hub_broadcasts_total",
		metric.WithDescription("Total group broadcasts"))
	h.evictions, _ = meter.Int64Counter("hub_evictions_total",
		metric.WithDescription("Connections closed because their send buffer was full"))
	h.active, _ = meter.Int64UpDownCounter("hub_connections",
		metric.WithDescription("Live connections"))
	return h
}

// InstanceID identifies this hub on the relay.
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// Run consumes relayed envelopes until ctx is done. Without a relay it only
// waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	if err := h.relay.Subscribe(ctx, h.handleEnvelope); err != nil {
		return err
	}
	<-ctx.Done()
	return h.relay.Close()
}

func (h *Hub) handleEnvelope(env fanout.Envelope) {
	if env.Origin == h.instanceID {
		return
	}
	switch {
	case env.ConnectionID != "":
		if conn := h.Get(env.ConnectionID); conn != nil {
			_ = h.deliver(conn, env.Data)
		}
	case env.Group != "":
		h.deliverGroup(env.Group, env.Exclude, env.Data)
	}
}

func shardIndex(key string) uint32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(key))
	return f.Sum32() % shardCount
}

// NewConnection creates a connection for an identity. The connection is not
// reachable until Register is called.
func (h *Hub) NewConnection(ws *websocket.Conn, id domain.Identity, monitor bool) *Connection {
	return &Connection{
		ID:       uuid.New().String(),
		Identity: id,
		Monitor:  monitor,
		Conn:     ws,
		Send:     make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
		groups:   make(map[string]struct{}),
	}
}

// Register makes a connection reachable by id.
func (h *Hub) Register(conn *Connection) {
	s := h.conns[shardIndex(conn.ID)]
	s.mu.Lock()
	s.conns[conn.ID] = conn
	s.mu.Unlock()
	h.active.Add(context.Background(), 1)
	h.logger.Debug("connection registered",
		zap.String("connection_id", conn.ID),
		zap.Stringer("identity", conn.Identity),
		zap.Bool("monitor", conn.Monitor))
}

// Unregister closes conn and drops every group membership it held. It returns
// the groups the connection was subscribed to. Safe to call more than once.
func (h *Hub) Unregister(conn *Connection) []string {
	groups := conn.release()

	for _, g := range groups {
		h.removeMember(g, conn.ID)
	}

	s := h.conns[shardIndex(conn.ID)]
	s.mu.Lock()
	_, ok := s.conns[conn.ID]
	delete(s.conns, conn.ID)
	s.mu.Unlock()

	if ok {
		h.active.Add(context.Background(), -1)
		h.logger.Debug("connection unregistered", zap.String("connection_id", conn.ID))
	}
	return groups
}

// Get returns a registered connection, or nil.
func (h *Hub) Get(connID string) *Connection {
	s := h.conns[shardIndex(connID)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[connID]
}

// Join subscribes a connection to group. Joining twice is a no-op.
func (h *Hub) Join(connID, group string) error {
	conn := h.Get(connID)
	if conn == nil {
		return ErrConnectionNotFound
	}

	// Lock order: connection, then group shard.
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return ErrConnectionClosed
	}
	if _, ok := conn.groups[group]; ok {
		return nil
	}
	conn.groups[group] = struct{}{}

	s := h.groups[shardIndex(group)]
	s.mu.Lock()
	members := s.groups[group]
	if members == nil {
		members = make(map[string]*Connection)
		s.groups[group] = members
	}
	members[conn.ID] = conn
	s.mu.Unlock()
	return nil
}

// Leave unsubscribes a connection from group.
func (h *Hub) Leave(connID, group string) {
	conn := h.Get(connID)
	if conn == nil {
		return
	}
	conn.mu.Lock()
	_, ok := conn.groups[group]
	delete(conn.groups, group)
	conn.mu.Unlock()
	if ok {
		h.removeMember(group, connID)
	}
}

func (h *Hub) removeMember(group, connID string) {
	s := h.groups[shardIndex(group)]
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.groups[group]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(s.groups, group)
	}
}

// IsMember reports whether connID is subscribed to group on this instance.
func (h *Hub) IsMember(connID, group string) bool {
	s := h.groups[shardIndex(group)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[group][connID]
	return ok
}

// Broadcast sends event to every member of group except excludeConnID.
// Delivery is best effort.
func (h *Hub) Broadcast(group, event string, payload any, excludeConnID string) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	h.broadcasts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", event)))
	h.deliverGroup(group, excludeConnID, data)

	if h.relay != nil {
		if err := h.relay.Publish(context.Background(), fanout.Envelope{
			Origin:  h.instanceID,
			Group:   group,
			Exclude: excludeConnID,
			Data:    data,
		}); err != nil {
			h.logger.Warn("relay publish failed", zap.String("group", group), zap.String("event", event), zap.Error(err))
		}
	}
	return nil
}

// SendDirect sends event to a single connection, locally or through the relay.
func (h *Hub) SendDirect(connID, event string, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	if conn := h.Get(connID); conn != nil {
		return h.deliver(conn, data)
	}
	if h.relay == nil {
		return ErrConnectionNotFound
	}
	return h.relay.Publish(context.Background(), fanout.Envelope{
		Origin:       h.instanceID,
		ConnectionID: connID,
		Data:         data,
	})
}

func (h *Hub) deliverGroup(group, exclude string, data []byte) {
	// Snapshot members so no shard lock is held while enqueueing.
	s := h.groups[shardIndex(group)]
	s.mu.RLock()
	members := make([]*Connection, 0, len(s.groups[group]))
	for id, conn := range s.groups[group] {
		if id != exclude {
			members = append(members, conn)
		}
	}
	s.mu.RUnlock()

	for _, conn := range members {
		_ = h.deliver(conn, data)
	}
}

func (h *Hub) deliver(conn *Connection, data []byte) error {
	err := conn.enqueue(data)
	if errors.Is(err, ErrBufferFull) {
		h.evictions.Add(context.Background(), 1)
		h.logger.Warn("connection buffer full, closing", zap.String("connection_id", conn.ID))
	}
	return err
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	n := 0
	for _, s := range h.conns {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}

// GroupCount returns the number of non-empty groups.
func (h *Hub) GroupCount() int {
	n := 0
	for _, s := range h.groups {
		s.mu.RLock()
		n += len(s.groups)
		s.mu.RUnlock()
	}
	return n
}

// GroupSize returns the number of local members of group.
func (h *Hub) GroupSize(group string) int {
	s := h.groups[shardIndex(group)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups[group])
}
