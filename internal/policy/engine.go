// Package policy authorizes realtime operations with an OPA/Rego policy.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
)

// ErrDenied is returned when the policy rejects an operation.
var ErrDenied = errors.New("operation denied")

// Subject is the caller as the policy sees it.
type Subject struct {
	Kind     string `json:"kind"`
	UserID   int64  `json:"userId,omitempty"`
	ClientID int64  `json:"clientId,omitempty"`
}

// Target is the conversation an operation addresses.
type Target struct {
	ID       int64 `json:"id"`
	ClientID int64 `json:"clientId"`
}

// Input is the document evaluated by the policy.
type Input struct {
	Operation    string  `json:"operation"`
	Identity     Subject `json:"identity"`
	Monitor      bool    `json:"monitor"`
	Conversation *Target `json:"conversation,omitempty"`
	// Member reports whether the connection is subscribed to the conversation group.
	Member bool `json:"member"`
}

// Decision is the policy result.
type Decision struct {
	Allow   bool
	Reasons []string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.chat.authz.decision"),
		rego.Module("chat_authz.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate runs the policy against input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Reasons: []string{"no decision"}}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result %T", results[0].Expressions[0].Value)
	}
	d := Decision{}
	d.Allow, _ = obj["allow"].(bool)
	if reasons, ok := obj["reasons"].([]interface{}); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				d.Reasons = append(d.Reasons, s)
			}
		}
	}
	return d, nil
}

// Authorize returns nil when input is allowed and an error wrapping
// ErrDenied otherwise.
func (e *Engine) Authorize(ctx context.Context, input Input) error {
	d, err := e.Evaluate(ctx, input)
	if err != nil {
		return err
	}
	if !d.Allow {
		return fmt.Errorf("%w: %s", ErrDenied, strings.Join(d.Reasons, "; "))
	}
	return nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package chat.authz

known_ops := {"JoinConversation", "LeaveConversation", "SendMessage", "Typing", "StopTyping", "MarkAsRead"}

write_ops := {"SendMessage", "Typing", "StopTyping", "MarkAsRead"}

signal_ops := {"Typing", "StopTyping", "MarkAsRead"}

deny contains "unknown operation" if {
	not input.operation in known_ops
}

deny contains "unauthenticated" if {
	not input.identity.kind in {"attendant", "client"}
}

# Monitors observe conversations but never act in them.
deny contains "monitor connections are read-only" if {
	input.monitor
	input.operation in write_ops
}

deny contains "clients may only access their own conversation" if {
	input.identity.kind == "client"
	input.conversation.clientId != input.identity.clientId
}

deny contains "join the conversation first" if {
	input.operation in signal_ops
	not input.member
}

decision := {"allow": count(deny) == 0, "reasons": sort(deny)}
`
