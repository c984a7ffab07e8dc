package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), DefaultPolicy)
	require.NoError(t, err)
	return e
}

func TestAuthorize(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	attendant := Subject{Kind: "attendant", UserID: 1}
	client := Subject{Kind: "client", ClientID: 7}
	own := &Target{ID: 10, ClientID: 7}
	other := &Target{ID: 11, ClientID: 8}

	tests := []struct {
		name  string
		input Input
		allow bool
	}{
		{"attendant sends", Input{Operation: "SendMessage", Identity: attendant, Conversation: own}, true},
		{"attendant types as member", Input{Operation: "Typing", Identity: attendant, Conversation: own, Member: true}, true},
		{"attendant types without joining", Input{Operation: "Typing", Identity: attendant, Conversation: own}, false},
		{"monitor joins", Input{Operation: "JoinConversation", Identity: attendant, Monitor: true, Conversation: own}, true},
		{"monitor sends", Input{Operation: "SendMessage", Identity: attendant, Monitor: true, Conversation: own}, false},
		{"monitor marks read", Input{Operation: "MarkAsRead", Identity: attendant, Monitor: true, Conversation: own, Member: true}, false},
		{"client joins own", Input{Operation: "JoinConversation", Identity: client, Conversation: own}, true},
		{"client joins other", Input{Operation: "JoinConversation", Identity: client, Conversation: other}, false},
		{"client sends to other", Input{Operation: "SendMessage", Identity: client, Conversation: other}, false},
		{"unknown operation", Input{Operation: "DropTables", Identity: attendant}, false},
		{"anonymous", Input{Operation: "SendMessage", Identity: Subject{Kind: "unknown"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Authorize(ctx, tt.input)
			if tt.allow {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrDenied)
			}
		})
	}
}

func TestEvaluateReportsReasons(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Evaluate(context.Background(), Input{
		Operation: "Typing",
		Identity:  Subject{Kind: "attendant", UserID: 1},
		Monitor:   true,
	})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, []string{"join the conversation first", "monitor connections are read-only"}, d.Reasons)
}

func TestNewEngineRejectsBadPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package chat.authz\n\ndecision := {")
	assert.Error(t, err)
}
