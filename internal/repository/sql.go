package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jrluiz96/roboteasy/internal/domain"
)

// dialect captures the few places where SQLite and Postgres differ.
type dialect struct {
	name string
	// lockSuffix is appended to the conversation row read that opens every
	// conversation mutation. SQLite serializes writers at BEGIN IMMEDIATE.
	lockSuffix string
	rebind     func(query string) string
	isUnique   func(err error) bool
}

// sqlStore holds the queries shared by the SQLite and Postgres stores.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) q(query string) string {
	if s.d.rebind == nil {
		return query
	}
	return s.d.rebind(query)
}

func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullInt64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

// Client operations

const clientColumns = `id, name, email, phone, cpf, created_at, updated_at`

func scanClient(row rowScanner) (*domain.Client, error) {
	var (
		c                 domain.Client
		email, phone, cpf sql.NullString
		updatedAt         sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Name, &email, &phone, &cpf, &c.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Email = nullStringPtr(email)
	c.Phone = nullStringPtr(phone)
	c.Cpf = nullStringPtr(cpf)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = nullTimePtr(updatedAt)
	return &c, nil
}

// CreateClient inserts a client and fills in its id.
func (s *sqlStore) CreateClient(ctx context.Context, client *domain.Client) error {
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO clients (name, email, phone, cpf, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), client.Name, client.Email, client.Phone, client.Cpf, client.CreatedAt.UTC()).Scan(&client.ID)
	if err != nil {
		if s.d.isUnique(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// UpdateClient overwrites the mutable client fields.
func (s *sqlStore) UpdateClient(ctx context.Context, client *domain.Client) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE clients SET name = ?, email = ?, phone = ?, cpf = ?, updated_at = ?
		WHERE id = ?
	`), client.Name, client.Email, client.Phone, client.Cpf, now, client.ID)
	if err != nil {
		if s.d.isUnique(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to update client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	client.UpdatedAt = &now
	return nil
}

// GetClient retrieves a client by id. Returns nil when absent.
func (s *sqlStore) GetClient(ctx context.Context, clientID int64) (*domain.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, s.q(`SELECT `+clientColumns+` FROM clients WHERE id = ?`), clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// GetClientByEmail retrieves a client by email. Returns nil when absent.
func (s *sqlStore) GetClientByEmail(ctx context.Context, email string) (*domain.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, s.q(`SELECT `+clientColumns+` FROM clients WHERE email = ?`), email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client by email: %w", err)
	}
	return c, nil
}

// User operations

// CreateUser inserts an attendant and fills in its id.
func (s *sqlStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO users (name, username, email, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), user.Name, user.Username, user.Email, user.AvatarURL, user.CreatedAt.UTC()).Scan(&user.ID)
	if err != nil {
		if s.d.isUnique(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves an attendant by id. Returns nil when absent.
func (s *sqlStore) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var (
		u         domain.User
		email     sql.NullString
		avatarURL sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, name, username, email, avatar_url, created_at FROM users WHERE id = ?
	`), userID).Scan(&u.ID, &u.Name, &u.Username, &email, &avatarURL, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Email = nullStringPtr(email)
	u.AvatarURL = nullStringPtr(avatarURL)
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// Conversation operations

const conversationColumns = `id, client_id, created_at, finished_at, attendance_time`

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		c              domain.Conversation
		finishedAt     sql.NullTime
		attendanceTime sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.ClientID, &c.CreatedAt, &finishedAt, &attendanceTime); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.FinishedAt = nullTimePtr(finishedAt)
	c.AttendanceTime = nullInt64Ptr(attendanceTime)
	return &c, nil
}

// lockConversation reads a conversation row inside tx and holds its write
// lock until the transaction ends. Returns nil when absent.
func (s *sqlStore) lockConversation(ctx context.Context, tx *sql.Tx, conversationID int64) (*domain.Conversation, error) {
	c, err := scanConversation(tx.QueryRowContext(ctx, s.q(`
		SELECT `+conversationColumns+` FROM conversations WHERE id = ?`+s.d.lockSuffix), conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock conversation: %w", err)
	}
	return c, nil
}

// OpenConversation returns the client's unfinished conversation, creating one
// when none exists. The boolean reports whether a new conversation was created.
func (s *sqlStore) OpenConversation(ctx context.Context, clientID int64, now time.Time) (*domain.Conversation, bool, error) {
	var (
		conv    *domain.Conversation
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanConversation(tx.QueryRowContext(ctx, s.q(`
			SELECT `+conversationColumns+` FROM conversations
			WHERE client_id = ? AND finished_at IS NULL
			ORDER BY created_at DESC LIMIT 1
		`), clientID))
		if err == nil {
			conv = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to get open conversation: %w", err)
		}

		c := &domain.Conversation{ClientID: clientID, CreatedAt: now.UTC()}
		if err := tx.QueryRowContext(ctx, s.q(`
			INSERT INTO conversations (client_id, created_at) VALUES (?, ?) RETURNING id
		`), clientID, c.CreatedAt).Scan(&c.ID); err != nil {
			if s.d.isUnique(err) {
				return ErrConflict
			}
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		conv = c
		created = true
		return nil
	})
	if errors.Is(err, ErrConflict) {
		// A concurrent start won the partial unique index; resume its row.
		existing, getErr := s.GetOpenConversationByClient(ctx, clientID)
		if getErr != nil {
			return nil, false, getErr
		}
		if existing == nil {
			return nil, false, fmt.Errorf("failed to open conversation: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

// GetOpenConversationByClient returns the client's unfinished conversation, or nil.
func (s *sqlStore) GetOpenConversationByClient(ctx context.Context, clientID int64) (*domain.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, s.q(`
		SELECT `+conversationColumns+` FROM conversations
		WHERE client_id = ? AND finished_at IS NULL
		ORDER BY created_at DESC LIMIT 1
	`), clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open conversation: %w", err)
	}
	return c, nil
}

// GetConversation retrieves a conversation by id. Returns nil when absent.
func (s *sqlStore) GetConversation(ctx context.Context, conversationID int64) (*domain.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, s.q(`
		SELECT `+conversationColumns+` FROM conversations WHERE id = ?
	`), conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// FinishConversation marks a conversation finished and records its attendance
// time. Returns ErrNotFound when absent or already finished.
func (s *sqlStore) FinishConversation(ctx context.Context, conversationID int64, now time.Time) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := s.lockConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if c == nil || c.IsFinished() {
			return ErrNotFound
		}

		finishedAt := now.UTC()
		if finishedAt.Before(c.CreatedAt) {
			finishedAt = c.CreatedAt
		}
		attendance := int64(finishedAt.Sub(c.CreatedAt) / time.Second)
		if _, err := tx.ExecContext(ctx, s.q(`
			UPDATE conversations SET finished_at = ?, attendance_time = ?
			WHERE id = ? AND finished_at IS NULL
		`), finishedAt, attendance, conversationID); err != nil {
			return fmt.Errorf("failed to finish conversation: %w", err)
		}
		c.FinishedAt = &finishedAt
		c.AttendanceTime = &attendance
		conv = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Participation operations

func (s *sqlStore) countActive(ctx context.Context, tx *sql.Tx, conversationID int64) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM user_conversations WHERE conversation_id = ? AND finished_at IS NULL
	`), conversationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return n, nil
}

// addParticipantTx must run after lockConversation on the same tx.
func (s *sqlStore) addParticipantTx(ctx context.Context, tx *sql.Tx, conversationID, userID int64, now time.Time) (domain.JoinResult, error) {
	var exists int
	err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM users WHERE id = ?`), userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JoinResult{}, ErrUserNotFound
	}
	if err != nil {
		return domain.JoinResult{}, fmt.Errorf("failed to get user: %w", err)
	}

	var already int
	err = tx.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM user_conversations
		WHERE conversation_id = ? AND user_id = ? AND finished_at IS NULL
	`), conversationID, userID).Scan(&already)
	if err != nil {
		return domain.JoinResult{}, fmt.Errorf("failed to check participation: %w", err)
	}
	if already > 0 {
		return domain.JoinResult{}, nil
	}

	active, err := s.countActive(ctx, tx, conversationID)
	if err != nil {
		return domain.JoinResult{}, err
	}
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO user_conversations (user_id, conversation_id, started_at) VALUES (?, ?, ?)
	`), userID, conversationID, now.UTC()); err != nil {
		return domain.JoinResult{}, fmt.Errorf("failed to add participant: %w", err)
	}
	return domain.JoinResult{Added: true, Activated: active == 0}, nil
}

// AddParticipant opens a participation for userID unless one is already active.
// Returns ErrNotFound for absent or finished conversations and ErrUserNotFound
// for unknown users.
func (s *sqlStore) AddParticipant(ctx context.Context, conversationID, userID int64, now time.Time) (domain.JoinResult, error) {
	var result domain.JoinResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := s.lockConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if c == nil || c.IsFinished() {
			return ErrNotFound
		}
		result, err = s.addParticipantTx(ctx, tx, conversationID, userID, now)
		return err
	})
	return result, err
}

// EndParticipation closes the user's active participation.
// Returns ErrNotFound when there is none.
func (s *sqlStore) EndParticipation(ctx context.Context, conversationID, userID int64, now time.Time) (domain.LeaveResult, error) {
	var result domain.LeaveResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := s.lockConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrNotFound
		}

		var (
			participationID int64
			userName        string
		)
		err = tx.QueryRowContext(ctx, s.q(`
			SELECT uc.id, u.name FROM user_conversations uc
			JOIN users u ON u.id = uc.user_id
			WHERE uc.conversation_id = ? AND uc.user_id = ? AND uc.finished_at IS NULL
			ORDER BY uc.started_at DESC LIMIT 1
		`), conversationID, userID).Scan(&participationID, &userName)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get participation: %w", err)
		}

		if _, err := tx.ExecContext(ctx, s.q(`
			UPDATE user_conversations SET finished_at = ? WHERE id = ?
		`), now.UTC(), participationID); err != nil {
			return fmt.Errorf("failed to end participation: %w", err)
		}
		remaining, err := s.countActive(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		result = domain.LeaveResult{UserName: userName, Remaining: remaining, Finished: c.IsFinished()}
		return nil
	})
	return result, err
}

// HasActiveParticipation reports whether userID is an active participant.
func (s *sqlStore) HasActiveParticipation(ctx context.Context, conversationID, userID int64) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM user_conversations
		WHERE conversation_id = ? AND user_id = ? AND finished_at IS NULL
	`), conversationID, userID).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check participation: %w", err)
	}
	return n > 0, nil
}

// ActiveParticipants lists attendants with an open participation, oldest first.
func (s *sqlStore) ActiveParticipants(ctx context.Context, conversationID int64) ([]domain.Attendant, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT u.id, u.name, u.avatar_url FROM user_conversations uc
		JOIN users u ON u.id = uc.user_id
		WHERE uc.conversation_id = ? AND uc.finished_at IS NULL
		ORDER BY uc.started_at, uc.id
	`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	attendants := []domain.Attendant{}
	for rows.Next() {
		var (
			a      domain.Attendant
			avatar sql.NullString
		)
		if err := rows.Scan(&a.UserID, &a.Name, &avatar); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		a.AvatarURL = nullStringPtr(avatar)
		attendants = append(attendants, a)
	}
	return attendants, rows.Err()
}

// Message operations

// AppendMessage persists a message. An attendant sender without an active
// participation is added as a participant in the same transaction. The stored
// created_at never precedes the conversation's previous message.
func (s *sqlStore) AppendMessage(ctx context.Context, message *domain.Message) (*domain.AppendResult, error) {
	if (message.UserID == nil) == (message.ClientID == nil) && message.Type != domain.MessageTypeSystem {
		return nil, fmt.Errorf("message must have exactly one sender")
	}
	result := &domain.AppendResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := s.lockConversation(ctx, tx, message.ConversationID)
		if err != nil {
			return err
		}
		if c == nil || c.IsFinished() {
			return ErrNotFound
		}

		createdAt := message.CreatedAt.UTC()
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		var senderName string
		switch {
		case message.UserID != nil:
			joined, err := s.addParticipantTx(ctx, tx, message.ConversationID, *message.UserID, createdAt)
			if err != nil {
				return err
			}
			result.Joined = joined
			if err := tx.QueryRowContext(ctx, s.q(`SELECT name FROM users WHERE id = ?`), *message.UserID).Scan(&senderName); err != nil {
				return fmt.Errorf("failed to get sender: %w", err)
			}
		case message.ClientID != nil:
			if *message.ClientID != c.ClientID {
				return ErrNotFound
			}
			if err := tx.QueryRowContext(ctx, s.q(`SELECT name FROM clients WHERE id = ?`), *message.ClientID).Scan(&senderName); err != nil {
				return fmt.Errorf("failed to get sender: %w", err)
			}
		}

		var last sql.NullTime
		err = tx.QueryRowContext(ctx, s.q(`
			SELECT created_at FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC LIMIT 1
		`), message.ConversationID).Scan(&last)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to get last message: %w", err)
		}
		if last.Valid && createdAt.Before(last.Time.UTC()) {
			createdAt = last.Time.UTC()
		}

		msgType := message.Type
		if msgType == 0 {
			msgType = domain.MessageTypeText
		}
		stored := *message
		stored.Type = msgType
		stored.CreatedAt = createdAt
		stored.SenderName = senderName
		if err := tx.QueryRowContext(ctx, s.q(`
			INSERT INTO messages (conversation_id, client_id, user_id, type, content, file_url, file_name, file_size, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`), stored.ConversationID, stored.ClientID, stored.UserID, int(stored.Type), stored.Content,
			stored.FileURL, stored.FileName, stored.FileSize, stored.CreatedAt).Scan(&stored.ID); err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		result.Message = &stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListMessages returns the conversation's messages ordered by created_at then id.
func (s *sqlStore) ListMessages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT m.id, m.conversation_id, m.user_id, m.client_id, m.type, m.content,
			m.file_url, m.file_name, m.file_size, m.created_at, u.name, cl.name
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		LEFT JOIN clients cl ON cl.id = m.client_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at, m.id
	`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var (
			m                 domain.Message
			userID, clientID  sql.NullInt64
			msgType           int
			fileURL, fileName sql.NullString
			fileSize          sql.NullInt64
			userName, cliName sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &userID, &clientID, &msgType, &m.Content,
			&fileURL, &fileName, &fileSize, &m.CreatedAt, &userName, &cliName); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.UserID = nullInt64Ptr(userID)
		m.ClientID = nullInt64Ptr(clientID)
		m.Type = domain.MessageType(msgType)
		m.FileURL = nullStringPtr(fileURL)
		m.FileName = nullStringPtr(fileName)
		m.FileSize = nullInt64Ptr(fileSize)
		m.CreatedAt = m.CreatedAt.UTC()
		switch {
		case userName.Valid:
			m.SenderName = userName.String
		case cliName.Valid:
			m.SenderName = cliName.String
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Read models

const summarySelect = `
	SELECT c.id, c.client_id, cl.name, cl.email, c.created_at, c.finished_at,
		lm.content, lm.created_at,
		(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
		(SELECT COUNT(*) FROM user_conversations uc WHERE uc.conversation_id = c.id AND uc.finished_at IS NULL)
	FROM conversations c
	JOIN clients cl ON cl.id = c.client_id
	LEFT JOIN messages lm ON lm.id = (
		SELECT m2.id FROM messages m2 WHERE m2.conversation_id = c.id
		ORDER BY m2.created_at DESC, m2.id DESC LIMIT 1
	)`

// ListVisibleConversations lists unfinished conversations that are waiting or
// in which userID is an active participant, newest first.
func (s *sqlStore) ListVisibleConversations(ctx context.Context, userID int64) ([]domain.ConversationSummary, error) {
	return s.listSummaries(ctx, `
		WHERE c.finished_at IS NULL AND (
			NOT EXISTS (SELECT 1 FROM user_conversations uc WHERE uc.conversation_id = c.id AND uc.finished_at IS NULL)
			OR EXISTS (SELECT 1 FROM user_conversations uc WHERE uc.conversation_id = c.id AND uc.finished_at IS NULL AND uc.user_id = ?)
		)
		ORDER BY c.created_at DESC, c.id DESC`, userID)
}

// ListActiveConversations lists every unfinished conversation, newest first.
func (s *sqlStore) ListActiveConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	return s.listSummaries(ctx, `
		WHERE c.finished_at IS NULL
		ORDER BY c.created_at DESC, c.id DESC`)
}

// ListFinishedConversations lists finished conversations, most recently finished first.
func (s *sqlStore) ListFinishedConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	return s.listSummaries(ctx, `
		WHERE c.finished_at IS NOT NULL
		ORDER BY c.finished_at DESC, c.id DESC`)
}

func (s *sqlStore) listSummaries(ctx context.Context, tail string, args ...any) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(summarySelect+tail), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	summaries := []domain.ConversationSummary{}
	index := map[int64]int{}
	for rows.Next() {
		var (
			cs            domain.ConversationSummary
			email         sql.NullString
			finishedAt    sql.NullTime
			lastContent   sql.NullString
			lastCreatedAt sql.NullTime
			active        int
		)
		if err := rows.Scan(&cs.ID, &cs.ClientID, &cs.ClientName, &email, &cs.CreatedAt, &finishedAt,
			&lastContent, &lastCreatedAt, &cs.MessageCount, &active); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		cs.ClientEmail = nullStringPtr(email)
		cs.CreatedAt = cs.CreatedAt.UTC()
		cs.FinishedAt = nullTimePtr(finishedAt)
		cs.LastMessage = nullStringPtr(lastContent)
		cs.LastMessageAt = nullTimePtr(lastCreatedAt)
		cs.Status = domain.ResolveStatus(cs.FinishedAt != nil, active)
		cs.Attendants = []domain.Attendant{}
		index[cs.ID] = len(summaries)
		summaries = append(summaries, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(summaries) == 0 {
		return summaries, nil
	}
	if err := s.attachAttendants(ctx, summaries, index); err != nil {
		return nil, err
	}
	return summaries, nil
}

// attachAttendants fills in every attendant that ever took part in each
// listed conversation, deduplicated, in order of first participation.
func (s *sqlStore) attachAttendants(ctx context.Context, summaries []domain.ConversationSummary, index map[int64]int) error {
	placeholders := make([]string, 0, len(summaries))
	args := make([]any, 0, len(summaries))
	for _, cs := range summaries {
		placeholders = append(placeholders, "?")
		args = append(args, cs.ID)
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT uc.conversation_id, u.id, u.name, u.avatar_url
		FROM user_conversations uc
		JOIN users u ON u.id = uc.user_id
		WHERE uc.conversation_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY uc.started_at, uc.id
	`), args...)
	if err != nil {
		return fmt.Errorf("failed to list attendants: %w", err)
	}
	defer rows.Close()

	seen := map[[2]int64]bool{}
	for rows.Next() {
		var (
			conversationID int64
			a              domain.Attendant
			avatar         sql.NullString
		)
		if err := rows.Scan(&conversationID, &a.UserID, &a.Name, &avatar); err != nil {
			return fmt.Errorf("failed to scan attendant: %w", err)
		}
		key := [2]int64{conversationID, a.UserID}
		if seen[key] {
			continue
		}
		seen[key] = true
		a.AvatarURL = nullStringPtr(avatar)
		i := index[conversationID]
		summaries[i].Attendants = append(summaries[i].Attendants, a)
	}
	return rows.Err()
}

// GetConversationDetail returns a conversation with its messages and active
// attendants. Returns nil when absent.
func (s *sqlStore) GetConversationDetail(ctx context.Context, conversationID int64) (*domain.ConversationDetail, error) {
	var (
		d              domain.ConversationDetail
		email, phone   sql.NullString
		finishedAt     sql.NullTime
		attendanceTime sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT c.id, c.client_id, cl.name, cl.email, cl.phone, c.created_at, c.finished_at, c.attendance_time
		FROM conversations c
		JOIN clients cl ON cl.id = c.client_id
		WHERE c.id = ?
	`), conversationID).Scan(&d.ID, &d.ClientID, &d.ClientName, &email, &phone, &d.CreatedAt, &finishedAt, &attendanceTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation detail: %w", err)
	}
	d.ClientEmail = nullStringPtr(email)
	d.ClientPhone = nullStringPtr(phone)
	d.CreatedAt = d.CreatedAt.UTC()
	d.FinishedAt = nullTimePtr(finishedAt)
	d.AttendanceTime = nullInt64Ptr(attendanceTime)

	if d.Messages, err = s.ListMessages(ctx, conversationID); err != nil {
		return nil, err
	}
	if d.Attendants, err = s.ActiveParticipants(ctx, conversationID); err != nil {
		return nil, err
	}
	d.Status = domain.ResolveStatus(d.FinishedAt != nil, len(d.Attendants))
	return &d, nil
}
