package messaging

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var (
	// errors
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("permission denied")

	errEmptyContent  = "this field is required"
	errSelfMessaging = "a message cannot be addressed to its sender"
	errBadLimit      = "limit must be a positive number"
)

type (
	// Repository owns the durable conversation & message state. CreateMessage and
	// MarkMessagesRead run their compound updates atomically.
	Repository interface {
		// CreateMessage inserts msg and creates or refreshes its Conversation in one
		// transaction: the recipient's unread counter is bumped and the last-message
		// snippet/timestamp overwritten. It returns the stored message and the
		// resulting conversation row.
		CreateMessage(ctx context.Context, msg Message) (Message, Conversation, error)
		GetConversationByID(ctx context.Context, id string) (Conversation, error)
		// QueryUserConversations returns every conversation the user participates in,
		// most recently active first.
		QueryUserConversations(ctx context.Context, userID string) ([]Conversation, error)
		// QueryConversationMessages returns the newest `limit` messages of the
		// conversation, presented oldest-first.
		QueryConversationMessages(ctx context.Context, conv Conversation, limit int) ([]Message, error)
		// MarkMessagesRead flips the reader's unread incoming messages to read and
		// resets their conversation counter to 0 in one transaction.
		MarkMessagesRead(ctx context.Context, conv Conversation, readerID string) error
	}

	ServiceInterface interface {
		Send(ctx context.Context, senderID string, nm NewMessage) (Message, error)
		ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error)
		ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]Message, error)
		MarkConversationRead(ctx context.Context, conversationID, userID string) error
	}

	service struct {
		repo    Repository
		usrSvc  user.ServiceInterface
		mailSvc core.EmailService
		logger  core.Logger
		conf    *core.Config
	}
)

var _ ServiceInterface = (*service)(nil) // interface compliance check

func NewService(
	repo Repository,
	usrSvc user.ServiceInterface,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *service {
	return &service{
		repo:    repo,
		usrSvc:  usrSvc,
		mailSvc: mailSvc,
		logger:  logger,
		conf:    conf,
	}
}

// Send records a new message from senderID to nm.RecipientID.
// Both participants must resolve; the conversation row for the pair is created on
// first contact and refreshed on every send. On success the recipient is notified
// by email, best effort.
func (svc *service) Send(ctx context.Context, senderID string, nm NewMessage) (Message, error) {
	content := core.CleanString(nm.Content)
	if content == "" {
		return Message{}, core.NewValidationError(nil, core.FieldError{Field: "content", Error: errEmptyContent})
	}
	recipientID := core.CleanString(nm.RecipientID)
	if recipientID == senderID {
		return Message{}, core.NewValidationError(nil, core.FieldError{Field: "recipient_id", Error: errSelfMessaging})
	}

	sender, err := svc.usrSvc.GetByID(ctx, senderID)
	if err != nil {
		return Message{}, errors.Wrap(err, "finding sender")
	}
	recipient, err := svc.usrSvc.GetByID(ctx, recipientID)
	if err != nil {
		return Message{}, errors.Wrap(err, "finding recipient")
	}

	msg := Message{
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Content:     content,
		SentAt:      time.Now().UTC(),
	}
	msg, _, err = svc.repo.CreateMessage(ctx, msg)
	if err != nil {
		return Message{}, errors.Wrap(err, "creating message")
	}

	svc.notifyRecipient(sender, recipient, msg)
	return msg, nil
}

// ListConversations returns the user's conversation list, most recently active
// first, with the counterpart resolved for each row. A row whose counterpart no
// longer resolves is dropped from the list and logged rather than failing the call.
func (svc *service) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	usr, err := svc.usrSvc.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "finding user")
	}

	convs, err := svc.repo.QueryUserConversations(ctx, usr.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying conversations")
	}

	summaries := make([]ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		counterpart, err := svc.usrSvc.GetByID(ctx, conv.CounterpartID(usr.ID))
		if err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				svc.logger.Warn(fmt.Sprintf("conversation %s: counterpart %s no longer resolves; row skipped", conv.ID, conv.CounterpartID(usr.ID)))
				continue
			}
			return nil, errors.Wrap(err, "finding counterpart")
		}
		summaries = append(summaries, ConversationSummary{
			ConversationID: conv.ID,
			Counterpart: Counterpart{
				ID:   counterpart.ID,
				Name: counterpart.Name,
				Role: counterpart.PrimaryRole(),
			},
			LastMessageSnippet: conv.LastMessageSnippet,
			LastMessageAt:      conv.LastMessageAt,
			UnreadCount:        conv.UnreadFor(usr.ID),
		})
	}
	return summaries, nil
}

// ListMessages returns the newest `limit` messages of the conversation,
// oldest-first. It is a pure read: acknowledging the messages is a separate,
// explicit MarkConversationRead call.
func (svc *service) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]Message, error) {
	if limit == 0 {
		limit = DefaultPageSize
	} else if limit < 0 {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "limit", Error: errBadLimit})
	}

	conv, err := svc.getParticipantConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := svc.repo.QueryConversationMessages(ctx, conv, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	return msgs, nil
}

// MarkConversationRead acknowledges every message addressed to userID in the
// conversation and resets their unread counter to 0. Idempotent.
func (svc *service) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	conv, err := svc.getParticipantConversation(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	return errors.Wrap(svc.repo.MarkMessagesRead(ctx, conv, userID), "marking messages read")
}

func (svc *service) getParticipantConversation(ctx context.Context, conversationID, userID string) (Conversation, error) {
	conv, err := svc.repo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return Conversation{}, errors.Wrap(err, "finding conversation")
	}
	if !conv.IsParticipant(userID) {
		return Conversation{}, ErrNotParticipant
	}
	return conv, nil
}

func (svc *service) notifyRecipient(sender, recipient user.User, msg Message) {
	if recipient.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: recipient.Name, Address: recipient.Email}},
		Subject: fmt.Sprintf("New message from %s", sender.Name),
		TextContent: fmt.Sprintf(
			"%s\n\nSign in to reply: %s/messages",
			core.TruncateString(msg.Content, SnippetMaxLen),
			svc.conf.FrontendBaseURL,
		),
	})
}
