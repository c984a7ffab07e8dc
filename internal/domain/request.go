package domain

// ChatStartRequest opens or resumes a conversation for an external client.
type ChatStartRequest struct {
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Cpf   *string `json:"cpf,omitempty"`
	// ClientToken lets an anonymous client (no email) resume its conversation.
	ClientToken string `json:"clientToken,omitempty"`
}

// ChatStartResponse carries the client credential for the realtime connection.
type ChatStartResponse struct {
	ClientID          int64     `json:"clientId"`
	ClientToken       string    `json:"clientToken"`
	ConversationID    int64     `json:"conversationId"`
	IsNewConversation bool      `json:"isNewConversation"`
	Messages          []Message `json:"messages"`
}

// JoinResult reports what an add-participation call changed.
type JoinResult struct {
	// Added is false when the user already had an active participation.
	Added bool
	// Activated is true when the conversation went from waiting to active.
	Activated bool
}

// LeaveResult reports what an end-participation call changed.
type LeaveResult struct {
	UserName string
	// Remaining is the number of active participations left.
	Remaining int
	// Finished is set when the conversation was already closed.
	Finished bool
}

// AppendResult is returned by a message write.
type AppendResult struct {
	Message *Message
	// Joined is set when the sender was lazily added as a participant.
	Joined JoinResult
}
