package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nimaibhat/medimoji-sub000/audioref"
	"github.com/nimaibhat/medimoji-sub000/conversation"
)

const (
	insertConversationSQL = `INSERT INTO conversations (
        id,
        owner_id,
        patient_name,
        patient_external_id,
        visit_reason,
        status,
        started_at,
        ended_at,
        created_at,
        updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	updateConversationSQL = `UPDATE conversations SET
        patient_name = $2,
        patient_external_id = $3,
        visit_reason = $4,
        status = $5,
        started_at = $6,
        ended_at = $7,
        updated_at = $8
WHERE id = $1`

	getConversationSQL = `SELECT id, owner_id, patient_name, patient_external_id, visit_reason, status, started_at, ended_at, created_at, updated_at
FROM conversations WHERE id = $1`

	getConversationForUpdateSQL = getConversationSQL + ` FOR UPDATE`

	listConversationsSQL = `SELECT id, owner_id, patient_name, patient_external_id, visit_reason, status, started_at, ended_at, created_at, updated_at
FROM conversations WHERE owner_id = $1 AND status <> 'archived' ORDER BY created_at DESC`

	listConversationsWithArchivedSQL = `SELECT id, owner_id, patient_name, patient_external_id, visit_reason, status, started_at, ended_at, created_at, updated_at
FROM conversations WHERE owner_id = $1 ORDER BY created_at DESC`

	deleteConversationSQL = `DELETE FROM conversations WHERE id = $1`

	deleteEmptyActiveSQL = `DELETE FROM conversations c
WHERE c.owner_id = $1 AND c.status = 'active'
  AND NOT EXISTS (SELECT 1 FROM exchanges e WHERE e.conversation_id = c.id)`

	insertExchangeSQL = `INSERT INTO exchanges (
        id,
        conversation_id,
        seq,
        source_language,
        target_language,
        original_audio,
        translated_audio,
        status,
        error_kind,
        error_message,
        duration_seconds,
        created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	getExchangesSQL = `SELECT id, seq, source_language, target_language, original_audio, translated_audio, status, error_kind, error_message, duration_seconds, created_at
FROM exchanges WHERE conversation_id = $1 ORDER BY seq ASC`

	deleteExchangesSQL = `DELETE FROM exchanges WHERE conversation_id = $1`
)

// ConversationStore persists conversation aggregates in Postgres.
// Exchange rows ride along with their conversation; Update rewrites the
// aggregate inside a row-locked transaction, which serializes
// concurrent writers on the same conversation.
type ConversationStore struct {
	db executor
}

// NewConversationStore creates a store over the given executor.
func NewConversationStore(db executor) *ConversationStore {
	return &ConversationStore{db: db}
}

// Create inserts a new conversation and its exchanges, if any.
func (s *ConversationStore) Create(ctx context.Context, c conversation.Conversation) error {
	txn, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create conversation: %w", err)
	}
	defer func() { _ = txn.Rollback(ctx) }()

	if _, err := txn.Exec(ctx, insertConversationSQL, conversationArgs(c)...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return conversation.ErrExists
		}
		return fmt.Errorf("insert conversation: %w", err)
	}

	if err := insertExchanges(ctx, txn, c); err != nil {
		return err
	}

	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("commit create conversation: %w", err)
	}
	return nil
}

// Get loads a conversation with its exchanges, in recording order.
func (s *ConversationStore) Get(ctx context.Context, id string) (conversation.Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(ctx, getConversationSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return conversation.Conversation{}, conversation.ErrNotFound
		}
		return conversation.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}

	if err := s.loadExchanges(ctx, s.db, &c); err != nil {
		return conversation.Conversation{}, err
	}
	return c, nil
}

// Update applies fn to the aggregate inside a transaction holding the
// conversation row lock. When fn fails the transaction rolls back.
func (s *ConversationStore) Update(ctx context.Context, id string, fn func(*conversation.Conversation) error) error {
	txn, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update conversation: %w", err)
	}
	defer func() { _ = txn.Rollback(ctx) }()

	c, err := scanConversation(txn.QueryRow(ctx, getConversationForUpdateSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return conversation.ErrNotFound
		}
		return fmt.Errorf("load conversation: %w", err)
	}
	if err := s.loadExchanges(ctx, txn, &c); err != nil {
		return err
	}

	if err := fn(&c); err != nil {
		return err
	}

	if _, err := txn.Exec(ctx, updateConversationSQL,
		c.ID,
		c.Patient.Name,
		c.Patient.ExternalID,
		c.Patient.VisitReason,
		string(c.Status),
		c.Session.StartedAt,
		nullableTime(c.Session.EndedAt),
		c.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	// The aggregate is small; rewriting its exchange rows is simpler
	// and safer than diffing them.
	if _, err := txn.Exec(ctx, deleteExchangesSQL, c.ID); err != nil {
		return fmt.Errorf("clear exchanges: %w", err)
	}
	if err := insertExchanges(ctx, txn, c); err != nil {
		return err
	}

	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("commit update conversation: %w", err)
	}
	return nil
}

// ListByOwner returns the owner's conversations, most recent first.
func (s *ConversationStore) ListByOwner(ctx context.Context, ownerID string, includeArchived bool) ([]conversation.Conversation, error) {
	query := listConversationsSQL
	if includeArchived {
		query = listConversationsWithArchivedSQL
	}

	rs, err := s.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rs.Close()

	out := make([]conversation.Conversation, 0)
	for rs.Next() {
		c, err := scanConversation(rs)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	for i := range out {
		if err := s.loadExchanges(ctx, s.db, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Delete removes the conversation; exchange rows cascade.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	affected, err := s.db.Exec(ctx, deleteConversationSQL, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if affected == 0 {
		return conversation.ErrNotFound
	}
	return nil
}

// DeleteEmptyActive removes the owner's active conversations without
// exchanges and reports how many were removed.
func (s *ConversationStore) DeleteEmptyActive(ctx context.Context, ownerID string) (int, error) {
	affected, err := s.db.Exec(ctx, deleteEmptyActiveSQL, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete empty conversations: %w", err)
	}
	return int(affected), nil
}

func (s *ConversationStore) loadExchanges(ctx context.Context, db interface {
	Query(ctx context.Context, query string, args ...any) (rows, error)
}, c *conversation.Conversation) error {
	rs, err := db.Query(ctx, getExchangesSQL, c.ID)
	if err != nil {
		return fmt.Errorf("load exchanges: %w", err)
	}
	defer rs.Close()

	for rs.Next() {
		ex, err := scanExchange(rs)
		if err != nil {
			return fmt.Errorf("scan exchange: %w", err)
		}
		c.Exchanges = append(c.Exchanges, ex)
	}
	if err := rs.Err(); err != nil {
		return fmt.Errorf("load exchanges: %w", err)
	}

	c.RecomputeDerived()
	return nil
}

func conversationArgs(c conversation.Conversation) []any {
	return []any{
		c.ID,
		c.OwnerID,
		c.Patient.Name,
		c.Patient.ExternalID,
		c.Patient.VisitReason,
		string(c.Status),
		c.Session.StartedAt,
		nullableTime(c.Session.EndedAt),
		c.CreatedAt,
		c.UpdatedAt,
	}
}

func insertExchanges(ctx context.Context, txn tx, c conversation.Conversation) error {
	for _, ex := range c.Exchanges {
		if _, err := txn.Exec(ctx, insertExchangeSQL,
			ex.ID,
			c.ID,
			ex.Sequence,
			ex.SourceLanguage,
			ex.TargetLanguage,
			ex.OriginalAudio.String(),
			ex.TranslatedAudio.String(),
			string(ex.Status),
			ex.ErrorKind,
			ex.ErrorMessage,
			ex.DurationSeconds,
			ex.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert exchange: %w", err)
		}
	}
	return nil
}

func scanConversation(scanner interface{ Scan(dest ...any) error }) (conversation.Conversation, error) {
	var (
		c       conversation.Conversation
		status  string
		endedAt *time.Time
	)

	if err := scanner.Scan(
		&c.ID,
		&c.OwnerID,
		&c.Patient.Name,
		&c.Patient.ExternalID,
		&c.Patient.VisitReason,
		&status,
		&c.Session.StartedAt,
		&endedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return conversation.Conversation{}, err
	}

	c.Status = conversation.Status(status)
	if endedAt != nil {
		c.Session.EndedAt = *endedAt
	}
	return c, nil
}

func scanExchange(scanner interface{ Scan(dest ...any) error }) (conversation.Exchange, error) {
	var (
		ex         conversation.Exchange
		original   string
		translated string
		status     string
	)

	if err := scanner.Scan(
		&ex.ID,
		&ex.Sequence,
		&ex.SourceLanguage,
		&ex.TargetLanguage,
		&original,
		&translated,
		&status,
		&ex.ErrorKind,
		&ex.ErrorMessage,
		&ex.DurationSeconds,
		&ex.CreatedAt,
	); err != nil {
		return conversation.Exchange{}, err
	}

	var err error
	if ex.OriginalAudio, err = audioref.Parse(original); err != nil {
		return conversation.Exchange{}, err
	}
	if ex.TranslatedAudio, err = audioref.Parse(translated); err != nil {
		return conversation.Exchange{}, err
	}
	ex.Status = conversation.ExchangeStatus(status)
	return ex, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// EnsureSchema creates the conversation tables when missing.
func EnsureSchema(ctx context.Context, db executor) error {
	const ddl = `CREATE TABLE IF NOT EXISTS conversations (
id TEXT PRIMARY KEY,
owner_id TEXT NOT NULL,
patient_name TEXT NOT NULL DEFAULT '',
patient_external_id TEXT NOT NULL DEFAULT '',
visit_reason TEXT NOT NULL DEFAULT '',
status TEXT NOT NULL,
started_at TIMESTAMPTZ NOT NULL,
ended_at TIMESTAMPTZ,
created_at TIMESTAMPTZ NOT NULL,
updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_owner_recency ON conversations (owner_id, created_at DESC);
CREATE TABLE IF NOT EXISTS exchanges (
id TEXT PRIMARY KEY,
conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
seq INTEGER NOT NULL,
source_language TEXT NOT NULL DEFAULT '',
target_language TEXT NOT NULL,
original_audio TEXT NOT NULL DEFAULT '',
translated_audio TEXT NOT NULL DEFAULT '',
status TEXT NOT NULL,
error_kind TEXT NOT NULL DEFAULT '',
error_message TEXT NOT NULL DEFAULT '',
duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS exchanges_conversation_seq ON exchanges (conversation_id, seq);`

	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure conversation schema: %w", err)
	}
	return nil
}
