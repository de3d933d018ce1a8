package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/messaging"
)

type messagingRepository struct {
	db *messagingTables
}

var _ messaging.Repository = (*messagingRepository)(nil) // interface compliance check

func NewMessagingRepository(db *DB) messaging.Repository {
	return &messagingRepository{db: db.messaging}
}

func (repo *messagingRepository) getByPair(a, b string) *messaging.Conversation {
	for _, conv := range repo.db.conversations {
		if conv.UserAID == a && conv.UserBID == b {
			return conv
		}
	}
	return nil
}

func (repo *messagingRepository) CreateMessage(_ context.Context, msg messaging.Message) (messaging.Message, messaging.Conversation, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	a, b := messaging.NormalizePair(msg.SenderID, msg.RecipientID)
	conv := repo.getByPair(a, b)
	if conv == nil {
		conv = &messaging.Conversation{
			ID:        uuid.New().String(),
			UserAID:   a,
			UserBID:   b,
			CreatedAt: msg.SentAt,
		}
		repo.db.conversations[conv.ID] = conv
	}
	if msg.RecipientID == conv.UserAID {
		conv.UnreadForA++
	} else {
		conv.UnreadForB++
	}
	conv.LastMessageSnippet = core.TruncateString(msg.Content, messaging.SnippetMaxLen)
	conv.LastMessageAt = msg.SentAt
	conv.UpdatedAt = msg.SentAt

	msg.ID = uuid.New().String()
	repo.db.messages = append(repo.db.messages, &msg)
	return msg, *conv, nil
}

func (repo *messagingRepository) GetConversationByID(_ context.Context, id string) (messaging.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if conv, ok := repo.db.conversations[id]; ok {
		return *conv, nil
	}
	return messaging.Conversation{}, messaging.ErrConversationNotFound
}

func (repo *messagingRepository) QueryUserConversations(_ context.Context, userID string) ([]messaging.Conversation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	convs := make([]messaging.Conversation, 0)
	for _, conv := range repo.db.conversations {
		if conv.IsParticipant(userID) {
			convs = append(convs, *conv)
		}
	}
	sort.SliceStable(convs, func(i, j int) bool { return convs[i].LastMessageAt.After(convs[j].LastMessageAt) })
	return convs, nil
}

func (repo *messagingRepository) QueryConversationMessages(_ context.Context, conv messaging.Conversation, limit int) ([]messaging.Message, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	// repo.db.messages is already in send order
	msgs := make([]messaging.Message, 0)
	for _, msg := range repo.db.messages {
		a, b := messaging.NormalizePair(msg.SenderID, msg.RecipientID)
		if a == conv.UserAID && b == conv.UserBID {
			msgs = append(msgs, *msg)
		}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (repo *messagingRepository) MarkMessagesRead(_ context.Context, conv messaging.Conversation, readerID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	counterpartID := conv.CounterpartID(readerID)
	for _, msg := range repo.db.messages {
		if msg.RecipientID == readerID && msg.SenderID == counterpartID && !msg.Read {
			msg.Read = true
		}
	}

	stored, ok := repo.db.conversations[conv.ID]
	if !ok {
		return messaging.ErrConversationNotFound
	}
	if readerID == stored.UserAID {
		stored.UnreadForA = 0
	} else {
		stored.UnreadForB = 0
	}
	stored.UpdatedAt = time.Now().UTC()
	return nil
}
