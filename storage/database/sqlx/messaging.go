package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/messaging"
)

type messagingRepository struct {
	db *sqlx.DB
}

var _ messaging.Repository = (*messagingRepository)(nil) // interface compliance check

func NewMessagingRepository(db *sqlx.DB) *messagingRepository {
	return &messagingRepository{db: db}
}

type (
	dbConversation struct {
		ID                 string    `db:"id"`
		UserAID            string    `db:"user_a_id"`
		UserBID            string    `db:"user_b_id"`
		LastMessageSnippet string    `db:"last_message_snippet"`
		LastMessageAt      time.Time `db:"last_message_at"`
		UnreadForA         int       `db:"unread_for_a"`
		UnreadForB         int       `db:"unread_for_b"`
		CreatedAt          time.Time `db:"created_at"`
		UpdatedAt          time.Time `db:"updated_at"`
	}

	dbMessage struct {
		ID          string    `db:"id"`
		Seq         int64     `db:"seq"`
		SenderID    string    `db:"sender_id"`
		RecipientID string    `db:"recipient_id"`
		Content     string    `db:"content"`
		Read        bool      `db:"read"`
		SentAt      time.Time `db:"sent_at"`
	}
)

const (
	conversationColumns = `id, user_a_id, user_b_id, last_message_snippet, last_message_at, unread_for_a, unread_for_b, created_at, updated_at`
	messageColumns      = `id, seq, sender_id, recipient_id, content, read, sent_at`

	// The ON CONFLICT arm carries both branches of "create or refresh": the VALUES
	// row holds the recipient's increment (1) and 0 for the sender's slot, so
	// adding it to the existing counters bumps exactly the recipient's count.
	upsertConversationSQL = `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (user_a_id, user_b_id) DO UPDATE
		SET last_message_snippet = EXCLUDED.last_message_snippet,
		    last_message_at      = EXCLUDED.last_message_at,
		    unread_for_a         = conversations.unread_for_a + EXCLUDED.unread_for_a,
		    unread_for_b         = conversations.unread_for_b + EXCLUDED.unread_for_b,
		    updated_at           = EXCLUDED.updated_at
		RETURNING ` + conversationColumns

	insertMessageSQL = `
		INSERT INTO messages (id, sender_id, recipient_id, content, read, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

func (repo messagingRepository) unpackConversation(c dbConversation) messaging.Conversation {
	return messaging.Conversation{
		ID:                 c.ID,
		UserAID:            c.UserAID,
		UserBID:            c.UserBID,
		LastMessageSnippet: c.LastMessageSnippet,
		LastMessageAt:      c.LastMessageAt,
		UnreadForA:         c.UnreadForA,
		UnreadForB:         c.UnreadForB,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func (repo messagingRepository) unpackMessage(m dbMessage) messaging.Message {
	return messaging.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		Read:        m.Read,
		SentAt:      m.SentAt,
	}
}

// trapNoRowsErr maps psql "no rows" err to messaging.ErrConversationNotFound
func (repo messagingRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return messaging.ErrConversationNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo messagingRepository) CreateMessage(ctx context.Context, msg messaging.Message) (messaging.Message, messaging.Conversation, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return messaging.Message{}, messaging.Conversation{}, errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	a, b := messaging.NormalizePair(msg.SenderID, msg.RecipientID)
	var unreadA, unreadB int
	if msg.RecipientID == a {
		unreadA = 1
	} else {
		unreadB = 1
	}

	var conv dbConversation
	err = tx.GetContext(ctx, &conv, upsertConversationSQL,
		uuid.New().String(), a, b,
		core.TruncateString(msg.Content, messaging.SnippetMaxLen), msg.SentAt.UTC(),
		unreadA, unreadB, msg.SentAt.UTC(),
	)
	if err != nil {
		return messaging.Message{}, messaging.Conversation{}, errors.Wrap(err, "upserting conversation")
	}

	msg.ID = uuid.New().String()
	if _, err = tx.ExecContext(ctx, insertMessageSQL,
		msg.ID, msg.SenderID, msg.RecipientID, msg.Content, msg.Read, msg.SentAt.UTC(),
	); err != nil {
		return messaging.Message{}, messaging.Conversation{}, errors.Wrap(err, "inserting message")
	}

	if err = tx.Commit(); err != nil {
		return messaging.Message{}, messaging.Conversation{}, errors.Wrap(err, "committing message")
	}
	return msg, repo.unpackConversation(conv), nil
}

func (repo messagingRepository) GetConversationByID(ctx context.Context, id string) (messaging.Conversation, error) {
	var conv dbConversation
	err := repo.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	if err != nil {
		return messaging.Conversation{}, repo.trapNoRowsErr(err, "getting conversation by id")
	}
	return repo.unpackConversation(conv), nil
}

func (repo messagingRepository) QueryUserConversations(ctx context.Context, userID string) ([]messaging.Conversation, error) {
	var convs []dbConversation
	err := repo.db.SelectContext(ctx, &convs, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE user_a_id = $1 OR user_b_id = $1
		ORDER BY last_message_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying conversations")
	}

	res := make([]messaging.Conversation, 0, len(convs))
	for _, c := range convs {
		res = append(res, repo.unpackConversation(c))
	}
	return res, nil
}

func (repo messagingRepository) QueryConversationMessages(ctx context.Context, conv messaging.Conversation, limit int) ([]messaging.Message, error) {
	var msgs []dbMessage
	err := repo.db.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY sent_at DESC, seq DESC
		LIMIT $3`, conv.UserAID, conv.UserBID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}

	// newest `limit` were fetched; present them chronologically
	res := make([]messaging.Message, len(msgs))
	for i, m := range msgs {
		res[len(msgs)-1-i] = repo.unpackMessage(m)
	}
	return res, nil
}

func (repo messagingRepository) MarkMessagesRead(ctx context.Context, conv messaging.Conversation, readerID string) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, `
		UPDATE messages SET read = true
		WHERE recipient_id = $1 AND sender_id = $2 AND NOT read`,
		readerID, conv.CounterpartID(readerID),
	); err != nil {
		return errors.Wrap(err, "marking messages read")
	}

	counter := "unread_for_b"
	if readerID == conv.UserAID {
		counter = "unread_for_a"
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE conversations SET `+counter+` = 0, updated_at = $2
		WHERE id = $1`, conv.ID, time.Now().UTC(),
	); err != nil {
		return errors.Wrap(err, "resetting unread counter")
	}

	return errors.Wrap(tx.Commit(), "committing read receipt")
}
