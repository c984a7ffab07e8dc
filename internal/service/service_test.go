package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

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
	"github.com/jrluiz96/roboteasy/tests/helpers"
)

const testSecret = "test-secret"

type fixture struct {
	svc      *Service
	hub      *hub.Hub
	store    *repository.SQLiteStore
	presence *presence.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, helpers.NewTestSQLiteStore(t))
}

func newFixtureOn(t *testing.T, store *repository.SQLiteStore) *fixture {
	t.Helper()
	h := hub.NewHub(hub.Options{SendBuffer: 128})
	reg := presence.NewRegistry()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	issuer := identity.NewIssuer(testSecret, identity.DefaultIssuer, time.Hour)
	verifier := identity.NewHMACVerifier(testSecret, identity.DefaultIssuer)

	return &fixture{
		svc:      New(store, h, reg, engine, issuer, verifier, zap.NewNop()),
		hub:      h,
		store:    store,
		presence: reg,
	}
}

func (f *fixture) connect(t *testing.T, id domain.Identity, monitor bool) *hub.Connection {
	t.Helper()
	conn := f.hub.NewConnection(nil, id, monitor)
	f.hub.Register(conn)
	require.NoError(t, f.svc.OnConnect(context.Background(), conn))
	return conn
}

func (f *fixture) disconnect(conn *hub.Connection) {
	f.hub.Unregister(conn)
	f.svc.OnDisconnect(context.Background(), conn)
}

// drain returns every frame queued for conn.
func drain(t *testing.T, conn *hub.Connection) []protocol.Frame {
	t.Helper()
	var frames []protocol.Frame
	for {
		select {
		case data := <-conn.Send:
			var f protocol.Frame
			require.NoError(t, json.Unmarshal(data, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func eventsOf(frames []protocol.Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func onlyEvent(t *testing.T, conn *hub.Connection, event string, v any) {
	t.Helper()
	frames := drain(t, conn)
	require.Len(t, frames, 1, "events: %v", eventsOf(frames))
	require.Equal(t, event, frames[0].Event)
	if v != nil {
		require.NoError(t, json.Unmarshal(frames[0].Data, v))
	}
}

func strPtr(s string) *string { return &s }

func TestStartChatCreatesThenResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	att := helpers.CreateUser(t, f.store, "Ana")
	conn := f.connect(t, domain.AttendantIdentity(att.ID), false)

	email := "Carla." + time.Now().Format("150405.000000") + "@Example.com"
	first, err := f.svc.StartChat(ctx, domain.ChatStartRequest{Name: " Carla ", Email: strPtr(email)})
	require.NoError(t, err)
	assert.True(t, first.IsNewConversation)
	assert.NotEmpty(t, first.ClientToken)
	assert.Empty(t, first.Messages)

	var created protocol.ConversationCreatedPayload
	onlyEvent(t, conn, protocol.EventConversationCreated, &created)
	assert.Equal(t, first.ConversationID, created.ID)
	assert.Equal(t, "Carla", created.ClientName)
	assert.Equal(t, domain.ConversationStatusWaiting, created.Status)

	client := f.connect(t, domain.ClientIdentity(first.ClientID), false)
	require.NoError(t, f.svc.SendMessage(ctx, client, protocol.Request{
		ConversationID: first.ConversationID,
		Content:        "hi",
	}))
	drain(t, client)

	second, err := f.svc.StartChat(ctx, domain.ChatStartRequest{Name: "Carla M", Email: strPtr(email)})
	require.NoError(t, err)
	assert.False(t, second.IsNewConversation)
	assert.Equal(t, first.ClientID, second.ClientID)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	require.Len(t, second.Messages, 1)
	assert.Equal(t, "Carla M", second.Messages[0].SenderName)
	assert.Empty(t, drain(t, conn))
}

func TestStartChatResumesByClientToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.StartChat(ctx, domain.ChatStartRequest{Name: "Anon"})
	require.NoError(t, err)

	again, err := f.svc.StartChat(ctx, domain.ChatStartRequest{Name: "Anon", ClientToken: first.ClientToken})
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, again.ClientID)
	assert.Equal(t, first.ConversationID, again.ConversationID)
	assert.False(t, again.IsNewConversation)

	other, err := f.svc.StartChat(ctx, domain.ChatStartRequest{Name: "Anon"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ClientID, other.ClientID)
	assert.True(t, other.IsNewConversation)
}

func TestStartChatRejectsBlankName(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartChat(context.Background(), domain.ChatStartRequest{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	att := helpers.CreateUser(t, f.store, "Ana")
	client := helpers.CreateClient(t, f.store, "Joao")
	conv, _, err := f.store.OpenConversation(ctx, client.ID, time.Now().UTC())
	require.NoError(t, err)

	conn := f.connect(t, domain.AttendantIdentity(att.ID), false)

	res, err := f.svc.Join(ctx, conv.ID, att.ID)
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.True(t, res.Activated)

	var status protocol.ConversationStatusPayload
	onlyEvent(t, conn, protocol.EventConversationStatus, &status)
	assert.Equal(t, domain.ConversationStatusActive, status.Status)
	require.NotNil(t, status.UserID)
	assert.Equal(t, att.ID, *status.UserID)
	assert.True(t, conn.InGroup(protocol.ConversationGroup(conv.ID)))

	res, err = f.svc.Join(ctx, conv.ID, att.ID)
	require.NoError(t, err)
	assert.False(t, res.Added)
	assert.Empty(t, drain(t, conn))

	active, err := f.store.ActiveParticipants(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestConcurrentJoinsActivateOnce(t *testing.T) {
	f := newFixtureOn(t, helpers.NewFileSQLiteStore(t))
	ctx := context.Background()
	client := helpers.CreateClient(t, f.store, "Joao")
	conv, _, err := f.store.OpenConversation(ctx, client.ID, time.Now().UTC())
	require.NoError(t, err)

	users := make([]*domain.User, 8)
	for i := range users {
		users[i] = helpers.CreateUser(t, f.store, "attendant")
	}
	monitor := f.connect(t, domain.AttendantIdentity(users[0].ID), true)

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := f.svc.Join(ctx, conv.ID, userID)
			assert.NoError(t, err)
		}(u.ID)
	}
	wg.Wait()

	events := eventsOf(drain(t, monitor))
	assert.Equal(t, []string{protocol.EventConversationStatus}, events)

	active, err := f.store.ActiveParticipants(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, active, len(users))
}

func TestConcurrentFinishEmitsOnce(t *testing.T) {
	f := newFixtureOn(t, helpers.NewFileSQLiteStore(t))
	ctx := context.Background()
	ana := helpers.CreateUser(t, f.store, "Ana")
	started, err := f.svc.StartChat(ctx, domain.ChatStartRequest{Name: "Joao"})
	require.NoError(t, err)
	watcher := f.connect(t, domain.AttendantIdentity(ana.ID), true)
	drain(t, watcher)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		finished int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Finish(ctx, started.ConversationID)
			if err == nil {
				mu.Lock()
				finished++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrNotFound)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, finished)
	assert.Equal(t, []string{protocol.EventConversationStatus}, eventsOf(drain(t, watcher)))
}

func TestConcurrentStartChatCreatesOnce(t *testing.T) {
	f := newFixtureOn(t, helpers.NewFileSQLiteStore(t))
	ctx := context.Background()
	ana := helpers.CreateUser(t, f.store, "Ana")
	watcher := f.connect(t, domain.AttendantIdentity(ana.ID), true)
	email := "race." + time.Now().Format("150405.000000") + "@example.com"

	const n = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		convs = map[int64]struct{}{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.StartChat(ctx, domain.ChatStartRequest{Name: "Rita", Email: strPtr(email)})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			convs[res.ConversationID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, convs, 1)
	assert.Equal(t, []string{protocol.EventConversationCreated}, eventsOf(drain(t, watcher)))
}

func TestFinishIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	att := helpers.CreateUser(t, f.store, "Ana")
	client := helpers.CreateClient(t, f.store, "Joao")
	conv, _, err := f.store.OpenConversation(ctx, client.ID, time.Now().UTC())
	require.NoError(t, err)

	clientConn := f.connect(t, domain.ClientIdentity(client.ID), false)
	require.True(t, clientConn.InGroup(protocol.ConversationGroup(conv.ID)))

	_, err = f.svc.Finish(ctx, conv.ID)
	require.NoError(t, err)
	onlyEvent(t, clientConn, protocol.EventConversationFinished, nil)

	_, err = f.svc.Finish(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Join(ctx, conv.ID, att.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Invite(ctx, conv.ID, att.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.svc.SendMessage(ctx, clientConn, protocol.Request{ConversationID: conv.ID, Content: "late"}))
	assert.Empty(t, drain(t, clientConn))

	messages, err := f.svc.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)

	// A new start after finish opens a fresh conversation.
	next, created, err := f.svc.Start(ctx, client.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, conv.ID, next.ID)
}

func TestSendMessageLazyJoinAndOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	att := helpers.CreateUser(t, f.store, "Ana")
	client := helpers.CreateClient(t, f.store, "Joao")
	conv, _, err := f.store.OpenConversation(ctx, client.ID, time.Now().UTC())
	require.NoError(t, err)

	clientConn := f.connect(t, domain.ClientIdentity(client.ID), false)
	attConn := f.connect(t, domain.AttendantIdentity(att.ID), false)

	// Frozen clock: ordering falls back to id.
	fixed := time.Now().UTC()
	f.svc.SetClock(func() time.Time { return fixed })

	require.NoError(t, f.svc.SendMessage(ctx, attConn, protocol.Request{ConversationID: conv.ID, Content: "hello"}))
	var msg domain.Message
	onlyEvent(t, clientConn, protocol.EventMessageReceive, &msg)
	assert.Equal(t, "Ana", msg.SenderName)
	assert.Equal(t, "hello", msg.Content)

	attFrames := eventsOf(drain(t, attConn))
	assert.Contains(t, attFrames, protocol.EventMessageReceive)
	assert.Contains(t, attFrames, protocol.EventConversationStatus)

	ok, err := f.store.HasActiveParticipation(ctx, conv.ID, att.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	for _, content := range []string{"one", "two", "three"} {
		require.NoError(t, f.svc.SendMessage(ctx, clientConn, protocol.Request{ConversationID: conv.ID, Content: content}))
	}
	messages, err := f.svc.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)
	for i := 1; i < len(messages); i++ {
		assert.False(t, messages[i].CreatedAt.Before(messages[i-1].CreatedAt))
		assert.Greater(t, messages[i].ID, messages[i-1].ID)
	}
	assert.Equal(t, "three", messages[3].Content)

	err = f.svc.SendMessage(ctx, clientConn, protocol.Request{ConversationID: conv.ID, Content: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMonitorIsInvisibleAndReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := helpers.CreateUser(t, f.store, "Ana")
	sup := helpers.CreateUser(t, f.store, "Supervisor")
	client := helpers.CreateClient(t, f.store, "Joao")
	conv, _, err := f.store.OpenConversation(ctx, client.ID, time.Now().UTC())
	require.NoError(t, err)

	anaConn := f.connect(t, domain.AttendantIdentity(ana.ID), false)
	monitor := f.connect(t, domain.AttendantIdentity(sup.ID), true)

	assert.Empty(t, drain(t, anaConn))
	_, online := f.presence.IsOnline(domain.AttendantIdentity(sup.ID))
	assert.False(t, online)
	assert.Equal(t, []int64{ana.ID}, f.svc.OnlineAttendants())

	require.NoError(t, f.svc.JoinConversation(ctx, monitor, protocol.Request{ConversationID: conv.ID}))
	err = f.svc.SendMessage(ctx, monitor, protocol.Request{ConversationID: conv.ID, Content: "hi"})
	assert.ErrorIs(t, err, policy.ErrDenied)
	err = f.svc.Typing(ctx, monitor, protocol.Request{ConversationID: conv.ID})
	assert.ErrorIs(t, err, policy.ErrDenied)

	f.disconnect(monitor)
	assert.Empty(t, drain(t, anaConn))
}

func TestPresenceAcrossConnections(t *testing.T) {
	f := newFixture(t)
	ana := helpers.CreateUser(t, f.store, "Ana")
	bia := helpers.CreateUser(t, f.store, "Bia")

	anaConn := f.connect(t, domain.AttendantIdentity(ana.ID), false)
	first := f.connect(t, domain.AttendantIdentity(bia.ID), false)
	second := f.connect(t, domain.AttendantIdentity(bia.ID), false)

	// The second connection of an online attendant is not announced again.
	var online protocol.UserOnlinePayload
	onlyEvent(t, anaConn, protocol.EventUserOnline, &online)
	assert.Equal(t, bia.ID, online.UserID)
	assert.Equal(t, first.ID, online.ConnectionID)

	connID, ok := f.svc.Presence(bia.ID)
	assert.True(t, ok)
	assert.Equal(t, second.ID, connID)

	f.disconnect(second)
	assert.Empty(t, drain(t, anaConn))
	connID, ok = f.svc.Presence(bia.ID)
	assert.True(t, ok)
	assert.Equal(t, first.ID, connID)

	f.disconnect(first)
	var offline protocol.UserOfflinePayload
	onlyEvent(t, anaConn, protocol.EventUserOffline, &offline)
	assert.Equal(t, bia.ID, offline.UserID)
	_, ok = f.svc.Presence(bia.ID)
	assert.False(t, ok)
}

func TestSignalsReachOthersOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := helpers.CreateUser(t, f.store, "Ana")
	client := helpers.CreateClient(t, f.store, "Joao")
	conv, _, err := f.store.OpenConversation(ctx, client.ID, time.Now().UTC())
	require.NoError(t, err)

	clientConn := f.connect(t, domain.ClientIdentity(client.ID), false)
	anaConn := f.connect(t, domain.AttendantIdentity(ana.ID), false)

	err = f.svc.Typing(ctx, anaConn, protocol.Request{ConversationID: conv.ID})
	assert.ErrorIs(t, err, policy.ErrDenied)

	require.NoError(t, f.svc.JoinConversation(ctx, anaConn, protocol.Request{ConversationID: conv.ID}))
	require.NoError(t, f.svc.Typing(ctx, clientConn, protocol.Request{ConversationID: conv.ID}))

	var typing protocol.TypingPayload
	onlyEvent(t, anaConn, protocol.EventTypingStart, &typing)
	require.NotNil(t, typing.ClientID)
	assert.Equal(t, client.ID, *typing.ClientID)
	assert.Nil(t, typing.UserID)
	assert.Empty(t, drain(t, clientConn))

	last := int64(42)
	require.NoError(t, f.svc.MarkAsRead(ctx, anaConn, protocol.Request{ConversationID: conv.ID, LastMessageID: &last}))
	var read protocol.MessageReadPayload
	onlyEvent(t, clientConn, protocol.EventMessageRead, &read)
	require.NotNil(t, read.LastMessageID)
	assert.Equal(t, last, *read.LastMessageID)

	require.NoError(t, f.svc.StopTyping(ctx, clientConn, protocol.Request{ConversationID: conv.ID}))
	onlyEvent(t, anaConn, protocol.EventTypingStop, nil)

	require.NoError(t, f.svc.LeaveConversation(ctx, anaConn, protocol.Request{ConversationID: conv.ID}))
	assert.False(t, anaConn.InGroup(protocol.ConversationGroup(conv.ID)))
}

func TestClientConfinedToOwnConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := helpers.CreateClient(t, f.store, "Joao")
	other := helpers.CreateClient(t, f.store, "Pedro")
	_, _, err := f.store.OpenConversation(ctx, mine.ID, time.Now().UTC())
	require.NoError(t, err)
	foreign, _, err := f.store.OpenConversation(ctx, other.ID, time.Now().UTC())
	require.NoError(t, err)

	conn := f.connect(t, domain.ClientIdentity(mine.ID), false)

	err = f.svc.JoinConversation(ctx, conn, protocol.Request{ConversationID: foreign.ID})
	assert.ErrorIs(t, err, policy.ErrDenied)
	err = f.svc.SendMessage(ctx, conn, protocol.Request{ConversationID: foreign.ID, Content: "hi"})
	assert.ErrorIs(t, err, policy.ErrDenied)
	err = f.svc.JoinConversation(ctx, conn, protocol.Request{ConversationID: 999999})
	assert.ErrorIs(t, err, ErrNotFound)

	messages, err := f.svc.Messages(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestInviteUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := helpers.CreateClient(t, f.store, "Joao")
	conv, _, err := f.store.OpenConversation(ctx, client.ID, time.Now().UTC())
	require.NoError(t, err)

	_, err = f.svc.Invite(ctx, conv.ID, 424242)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLeaveLastAttendantRevertsToWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := helpers.CreateUser(t, f.store, "Ana")
	client := helpers.CreateClient(t, f.store, "Joao")
	conv, _, err := f.store.OpenConversation(ctx, client.ID, time.Now().UTC())
	require.NoError(t, err)

	_, err = f.svc.Leave(ctx, conv.ID, ana.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	anaConn := f.connect(t, domain.AttendantIdentity(ana.ID), false)
	_, err = f.svc.Join(ctx, conv.ID, ana.ID)
	require.NoError(t, err)
	drain(t, anaConn)

	res, err := f.svc.Leave(ctx, conv.ID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)

	frames := drain(t, anaConn)
	assert.Equal(t, []string{protocol.EventAttendantLeft, protocol.EventConversationStatus}, eventsOf(frames))
	var status protocol.ConversationStatusPayload
	require.NoError(t, json.Unmarshal(frames[1].Data, &status))
	assert.Equal(t, domain.ConversationStatusWaiting, status.Status)
	assert.False(t, anaConn.InGroup(protocol.ConversationGroup(conv.ID)))

	list, err := f.svc.ListConversations(ctx, ana.ID, "")
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, domain.ConversationStatusWaiting, list[0].Status)

	_, err = f.svc.ListConversations(ctx, ana.ID, "bogus")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLeaveFinishedConversationKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := helpers.CreateUser(t, f.store, "Ana")
	observer := helpers.CreateUser(t, f.store, "Observer")

	started, err := f.svc.StartChat(ctx, domain.ChatStartRequest{Name: "Joao"})
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, started.ConversationID, ana.ID)
	require.NoError(t, err)
	_, err = f.svc.Finish(ctx, started.ConversationID)
	require.NoError(t, err)

	watcher := f.connect(t, domain.AttendantIdentity(observer.ID), false)
	drain(t, watcher)

	res, err := f.svc.Leave(ctx, started.ConversationID, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, res.Finished)
	assert.Empty(t, drain(t, watcher))

	conv, err := f.svc.Conversation(ctx, started.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusFinished, conv.Status)
}

func TestHandlersCoverEveryOperation(t *testing.T) {
	f := newFixture(t)
	handlers := f.svc.Handlers()
	for _, op := range []string{
		protocol.OpJoinConversation, protocol.OpLeaveConversation, protocol.OpSendMessage,
		protocol.OpTyping, protocol.OpStopTyping, protocol.OpMarkAsRead,
	} {
		assert.Contains(t, handlers, op)
	}
	assert.Len(t, handlers, 6)
}

func TestPushEvent(t *testing.T) {
	f := newFixture(t)
	ana := helpers.CreateUser(t, f.store, "Ana")
	conn := f.connect(t, domain.AttendantIdentity(ana.ID), false)

	require.NoError(t, f.svc.PushEvent(protocol.GroupAttendants, "system:notice", json.RawMessage(`{"text":"maintenance"}`)))
	var payload map[string]string
	onlyEvent(t, conn, "system:notice", &payload)
	assert.Equal(t, "maintenance", payload["text"])

	assert.ErrorIs(t, f.svc.PushEvent("", "x", nil), ErrInvalidInput)
}

func TestMariaScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.SetClock(func() time.Time { return start })

	ana := helpers.CreateUser(t, f.store, "Ana")
	bia := helpers.CreateUser(t, f.store, "Bia")
	caio := helpers.CreateUser(t, f.store, "Caio")

	anaConn := f.connect(t, domain.AttendantIdentity(ana.ID), false)
	biaConn := f.connect(t, domain.AttendantIdentity(bia.ID), false)
	caioConn := f.connect(t, domain.AttendantIdentity(caio.ID), false)
	drain(t, anaConn)
	drain(t, biaConn)
	drain(t, caioConn)

	// Maria has no email.
	resp, err := f.svc.StartChat(ctx, domain.ChatStartRequest{Name: "Maria"})
	require.NoError(t, err)
	require.True(t, resp.IsNewConversation)
	convID := resp.ConversationID
	for _, c := range []*hub.Connection{anaConn, biaConn, caioConn} {
		onlyEvent(t, c, protocol.EventConversationCreated, nil)
	}

	maria := f.connect(t, domain.ClientIdentity(resp.ClientID), false)
	require.True(t, maria.InGroup(protocol.ConversationGroup(convID)))

	// Ana joins: waiting -> active.
	_, err = f.svc.Join(ctx, convID, ana.ID)
	require.NoError(t, err)
	var status protocol.ConversationStatusPayload
	onlyEvent(t, biaConn, protocol.EventConversationStatus, &status)
	assert.Equal(t, domain.ConversationStatusActive, status.Status)
	drain(t, anaConn)
	drain(t, caioConn)

	// Bia invites Caio, who is online.
	res, err := f.svc.Invite(ctx, convID, caio.ID)
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.False(t, res.Activated)

	var invited protocol.ConversationInvitedPayload
	onlyEvent(t, caioConn, protocol.EventConversationInvited, &invited)
	assert.Equal(t, caio.ID, invited.InvitedUserID)
	onlyEvent(t, maria, protocol.EventConversationInvited, nil)
	onlyEvent(t, anaConn, protocol.EventConversationInvited, nil)
	assert.Empty(t, drain(t, biaConn))

	active, err := f.store.ActiveParticipants(ctx, convID)
	require.NoError(t, err)
	require.Len(t, active, 2)

	// Redundant invite is silent.
	res, err = f.svc.Invite(ctx, convID, caio.ID)
	require.NoError(t, err)
	assert.False(t, res.Added)
	assert.Empty(t, drain(t, caioConn))

	// Ana leaves; Caio keeps the conversation active.
	_, err = f.svc.Leave(ctx, convID, ana.ID)
	require.NoError(t, err)
	var left protocol.AttendantLeftPayload
	onlyEvent(t, maria, protocol.EventAttendantLeft, &left)
	assert.Equal(t, "Ana", left.UserName)
	onlyEvent(t, caioConn, protocol.EventAttendantLeft, nil)
	drain(t, anaConn)
	assert.Empty(t, drain(t, biaConn))

	detail, err := f.svc.Conversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusActive, detail.Status)

	// Caio finishes 90.4s after creation.
	f.svc.SetClock(func() time.Time { return start.Add(90*time.Second + 400*time.Millisecond) })
	conv, err := f.svc.Finish(ctx, convID)
	require.NoError(t, err)
	require.NotNil(t, conv.AttendanceTime)
	assert.Equal(t, int64(90), *conv.AttendanceTime)

	onlyEvent(t, maria, protocol.EventConversationFinished, nil)
	frames := eventsOf(drain(t, caioConn))
	assert.Equal(t, []string{protocol.EventConversationFinished, protocol.EventConversationStatus}, frames)

	history, err := f.svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.ConversationStatusFinished, history[0].Status)
}
