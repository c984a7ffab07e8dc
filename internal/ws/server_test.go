package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jrluiz96/roboteasy/internal/domain"
	"github.com/jrluiz96/roboteasy/internal/hub"
	"github.com/jrluiz96/roboteasy/internal/identity"
	"github.com/jrluiz96/roboteasy/internal/policy"
	"github.com/jrluiz96/roboteasy/internal/presence"
	"github.com/jrluiz96/roboteasy/internal/protocol"
	"github.com/jrluiz96/roboteasy/internal/repository"
	"github.com/jrluiz96/roboteasy/internal/service"
	"github.com/jrluiz96/roboteasy/internal/ws"
	"github.com/jrluiz96/roboteasy/tests/helpers"
)

const secret = "ws-secret"

type env struct {
	hub    *hub.Hub
	svc    *service.Service
	store  *repository.SQLiteStore
	issuer *identity.Issuer
	server *ws.Server
	http   *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := helpers.NewTestSQLiteStore(t)
	h := hub.NewHub(hub.Options{})
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	issuer := identity.NewIssuer(secret, identity.DefaultIssuer, time.Hour)
	verifier := identity.NewHMACVerifier(secret, identity.DefaultIssuer)
	svc := service.New(store, h, presence.NewRegistry(), engine, issuer, verifier, zap.NewNop())

	server := ws.NewServer(ws.Options{
		PingInterval: time.Second,
		ReadTimeout:  5 * time.Second,
		OpTimeout:    2 * time.Second,
	}, h, identity.NewResolver(verifier, verifier), svc)
	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		srv.Close()
	})
	return &env{hub: h, svc: svc, store: store, issuer: issuer, server: server, http: srv}
}

func (e *env) dial(t *testing.T, query url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/hubs/chat?" + query.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *env) attendant(t *testing.T, userID int64, monitor bool) *websocket.Conn {
	t.Helper()
	token, err := e.issuer.IssueAttendantToken(userID, time.Hour)
	require.NoError(t, err)
	q := url.Values{"access_token": {token}}
	if monitor {
		q.Set("monitor", "true")
	}
	before := e.hub.GroupSize(protocol.GroupAttendants)
	conn := e.dial(t, q)
	require.Eventually(t, func() bool {
		return e.hub.GroupSize(protocol.GroupAttendants) == before+1
	}, time.Second, 5*time.Millisecond)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f protocol.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func send(t *testing.T, conn *websocket.Conn, req protocol.Request) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
}

func TestRejectsUnauthenticated(t *testing.T) {
	e := newEnv(t)

	for _, q := range []url.Values{
		{},
		{"access_token": {"garbage"}},
	} {
		conn := e.dial(t, q)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	}
	assert.Equal(t, 0, e.hub.ConnectionCount())
	assert.Equal(t, 0, e.hub.GroupCount())
}

func TestClientTokenIsNotAnAccessToken(t *testing.T) {
	e := newEnv(t)
	token, _, err := e.issuer.IssueClientToken(7)
	require.NoError(t, err)

	conn := e.dial(t, url.Values{"access_token": {token}})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestMessageRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ana := helpers.CreateUser(t, e.store, "Ana")
	client := helpers.CreateClient(t, e.store, "Joao")
	conv, _, err := e.store.OpenConversation(ctx, client.ID, time.Now().UTC())
	require.NoError(t, err)
	group := protocol.ConversationGroup(conv.ID)

	anaConn := e.attendant(t, ana.ID, false)

	token, _, err := e.issuer.IssueClientToken(client.ID)
	require.NoError(t, err)
	clientConn := e.dial(t, url.Values{"client_token": {token}})
	require.Eventually(t, func() bool { return e.hub.GroupSize(group) == 1 }, time.Second, 5*time.Millisecond)

	send(t, anaConn, protocol.Request{Type: protocol.OpJoinConversation, ConversationID: conv.ID})
	require.Eventually(t, func() bool { return e.hub.GroupSize(group) == 2 }, time.Second, 5*time.Millisecond)

	send(t, clientConn, protocol.Request{Type: protocol.OpSendMessage, ConversationID: conv.ID, Content: "oi"})

	f := readFrame(t, anaConn)
	require.Equal(t, protocol.EventMessageReceive, f.Event)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	assert.Equal(t, "oi", msg.Content)
	assert.Equal(t, "Joao", msg.SenderName)
	require.NotNil(t, msg.ClientID)
	assert.Equal(t, client.ID, *msg.ClientID)

	// The sender receives its own message too.
	f = readFrame(t, clientConn)
	assert.Equal(t, protocol.EventMessageReceive, f.Event)
}

func TestErrorFrames(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sup := helpers.CreateUser(t, e.store, "Supervisor")
	client := helpers.CreateClient(t, e.store, "Joao")
	conv, _, err := e.store.OpenConversation(ctx, client.ID, time.Now().UTC())
	require.NoError(t, err)

	conn := e.attendant(t, sup.ID, true)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var payload protocol.ErrorPayload
	f := readFrame(t, conn)
	require.Equal(t, protocol.EventError, f.Event)
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, payload.Code)

	send(t, conn, protocol.Request{Type: "Dance", RequestID: "r1"})
	f = readFrame(t, conn)
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, protocol.ErrorCodeUnknownOperation, payload.Code)
	assert.Equal(t, "r1", payload.RequestID)

	send(t, conn, protocol.Request{Type: protocol.OpSendMessage, RequestID: "r2", ConversationID: conv.ID, Content: "hi"})
	f = readFrame(t, conn)
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, protocol.ErrorCodeForbidden, payload.Code)
	assert.Equal(t, "r2", payload.RequestID)

	send(t, conn, protocol.Request{Type: protocol.OpJoinConversation, RequestID: "r3", ConversationID: conv.ID + 1000})
	f = readFrame(t, conn)
	require.NoError(t, json.Unmarshal(f.Data, &payload))
	assert.Equal(t, protocol.ErrorCodeNotFound, payload.Code)
}

func TestDisconnectReleasesOnce(t *testing.T) {
	e := newEnv(t)
	ana := helpers.CreateUser(t, e.store, "Ana")
	bia := helpers.CreateUser(t, e.store, "Bia")

	anaConn := e.attendant(t, ana.ID, false)
	biaConn := e.attendant(t, bia.ID, false)

	f := readFrame(t, anaConn)
	require.Equal(t, protocol.EventUserOnline, f.Event)

	require.NoError(t, biaConn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = biaConn.Close()

	f = readFrame(t, anaConn)
	require.Equal(t, protocol.EventUserOffline, f.Event)
	var offline protocol.UserOfflinePayload
	require.NoError(t, json.Unmarshal(f.Data, &offline))
	assert.Equal(t, bia.ID, offline.UserID)

	require.Eventually(t, func() bool { return e.hub.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return e.server.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestShutdownClosesConnections(t *testing.T) {
	e := newEnv(t)
	ana := helpers.CreateUser(t, e.store, "Ana")
	conn := e.attendant(t, ana.ID, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.server.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, e.hub.ConnectionCount())
}

func TestShutdownRefusesNewConnections(t *testing.T) {
	e := newEnv(t)
	ana := helpers.CreateUser(t, e.store, "Ana")
	token, err := e.issuer.IssueAttendantToken(ana.ID, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.server.Shutdown(ctx))

	u := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/hubs/chat?" + url.Values{"access_token": {token}}.Encode()
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 0, e.hub.ConnectionCount())
}

func TestShutdownDuringHandshakesLeavesNoPresence(t *testing.T) {
	e := newEnv(t)
	base := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/hubs/chat?"

	const dialers = 8
	urls := make([]string, dialers)
	for i := range urls {
		u := helpers.CreateUser(t, e.store, "attendant")
		token, err := e.issuer.IssueAttendantToken(u.ID, time.Hour)
		require.NoError(t, err)
		urls[i] = base + url.Values{"access_token": {token}}.Encode()
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			<-start
			conn, _, err := websocket.DefaultDialer.Dial(u, nil)
			if err == nil {
				defer conn.Close()
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				for {
					if _, _, err := conn.ReadMessage(); err != nil {
						return
					}
				}
			}
		}(u)
	}

	close(start)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.server.Shutdown(ctx))
	wg.Wait()

	require.Eventually(t, func() bool {
		return e.hub.ConnectionCount() == 0 && len(e.svc.OnlineAttendants()) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, e.server.ConnectionCount())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, protocol.ErrorCodeForbidden, ws.ErrorCode(policy.ErrDenied))
	assert.Equal(t, protocol.ErrorCodeNotFound, ws.ErrorCode(repository.ErrNotFound))
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, ws.ErrorCode(service.ErrInvalidInput))
	assert.Equal(t, protocol.ErrorCodeInternalError, ws.ErrorCode(assert.AnError))
}
