package messaging

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

const (
	// SnippetMaxLen bounds Conversation.LastMessageSnippet.
	SnippetMaxLen = 100

	// DefaultPageSize is the number of messages returned by ListMessages when no limit is given.
	DefaultPageSize = 50
)

// Conversation is the unique, persistent channel between two users.
// Participant slots are normalized on write: UserAID < UserBID; the (UserAID, UserBID)
// pair is unique so {x,y} and {y,x} always resolve to the same row.
type Conversation struct {
	ID                 string    `json:"id"`
	UserAID            string    `json:"user_a_id"`
	UserBID            string    `json:"user_b_id"`
	LastMessageSnippet string    `json:"last_message_snippet"`
	LastMessageAt      time.Time `json:"last_message_at"` // UTC
	UnreadForA         int       `json:"unread_for_a"`
	UnreadForB         int       `json:"unread_for_b"`
	CreatedAt          time.Time `json:"created_at"` // UTC
	UpdatedAt          time.Time `json:"updated_at"` // UTC
}

// NormalizePair orders a participant pair into conversation slots.
func NormalizePair(x, y string) (a, b string) {
	if x < y {
		return x, y
	}
	return y, x
}

func (c *Conversation) IsParticipant(userID string) bool {
	return userID == c.UserAID || userID == c.UserBID
}

// CounterpartID returns the other participant's id.
func (c *Conversation) CounterpartID(userID string) string {
	if userID == c.UserAID {
		return c.UserBID
	}
	return c.UserAID
}

// UnreadFor returns the unread counter owned by the given participant.
func (c *Conversation) UnreadFor(userID string) int {
	if userID == c.UserAID {
		return c.UnreadForA
	}
	return c.UnreadForB
}

// Message is an immutable record of one directed communication.
// Only Read ever changes after creation, and only false -> true.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	Read        bool      `json:"read"`
	SentAt      time.Time `json:"sent_at"` // UTC
}

// Counterpart is the identity projection of the other participant, shown in list views.
type Counterpart struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ConversationID     string      `json:"conversation_id"`
	Counterpart        Counterpart `json:"counterpart"`
	LastMessageSnippet string      `json:"last_message_snippet"`
	LastMessageAt      time.Time   `json:"last_message_at"`
	UnreadCount        int         `json:"unread_count"`
}

// NewMessage contains information needed to send a new Message.
// The sender is the authenticated user and is never taken from the payload.
type NewMessage struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	Content     string `json:"content" validate:"required"`
}

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	nm.RecipientID = core.CleanString(nm.RecipientID)
	nm.Content = core.CleanString(nm.Content)
	return validate.Struct(nm)
}
