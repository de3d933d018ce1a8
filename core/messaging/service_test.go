package messaging_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/messaging"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
	testutil "github.com/trezcool/darasa/tests"
)

var ctx = context.Background()

type testApp struct {
	usrRepo user.Repository
	svc     messaging.ServiceInterface
}

func setup(t *testing.T) *testApp {
	conf := &core.Config{
		Debug:           true,
		TestMode:        true,
		AppName:         "Darasa",
		SecretKey:       "secret",
		FrontendBaseURL: "http://localhost:3000",
		DefaultFromName: "Darasa",
		DefaultFromAddr: "noreply@localhost",
	}

	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}
	usrRepo := inmemdb.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, conf)
	mailSvc := emailsvc.NewConsoleServiceMock(conf)
	emailsvc.ClearSentMessages()

	return &testApp{
		usrRepo: usrRepo,
		svc:     messaging.NewService(inmemdb.NewMessagingRepository(db), usrSvc, mailSvc, testutil.NewLogger(), conf),
	}
}

func fieldError(t *testing.T, err error, field string) {
	t.Helper()
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	if !ok {
		t.Fatalf("expected a validation error, got %v", err)
	}
	for _, fErr := range vErr.Fields {
		if fErr.Field == field {
			return
		}
	}
	t.Errorf("validation error misses field %q: %v", field, vErr.Fields)
}

func Test_service_Send(t *testing.T) {
	app := setup(t)
	teacher := testutil.CreateUser(t, app.usrRepo, "Mr. Mo", "mo", "mo@darasa.cd", "pwd", []string{user.RoleTeacher}, true)
	student := testutil.CreateUser(t, app.usrRepo, "Awe", "awe", "awe@darasa.cd", "pwd", []string{user.RoleStudent}, true)

	t.Run("empty content", func(t *testing.T) {
		_, err := app.svc.Send(ctx, teacher.ID, messaging.NewMessage{RecipientID: student.ID, Content: "   "})
		fieldError(t, err, "content")
	})

	t.Run("self messaging", func(t *testing.T) {
		_, err := app.svc.Send(ctx, teacher.ID, messaging.NewMessage{RecipientID: teacher.ID, Content: "hey me"})
		fieldError(t, err, "recipient_id")
	})

	t.Run("unknown recipient", func(t *testing.T) {
		_, err := app.svc.Send(ctx, teacher.ID, messaging.NewMessage{RecipientID: "deadbeef", Content: "hey"})
		if errors.Cause(err) != user.ErrNotFound {
			t.Errorf("Send() error = %v, want %v", err, user.ErrNotFound)
		}
	})

	t.Run("unknown sender", func(t *testing.T) {
		_, err := app.svc.Send(ctx, "deadbeef", messaging.NewMessage{RecipientID: student.ID, Content: "hey"})
		if errors.Cause(err) != user.ErrNotFound {
			t.Errorf("Send() error = %v, want %v", err, user.ErrNotFound)
		}
	})

	t.Run("ok", func(t *testing.T) {
		msg, err := app.svc.Send(ctx, teacher.ID, messaging.NewMessage{RecipientID: student.ID, Content: "  Homework due Friday.  "})
		if err != nil {
			t.Fatalf("Send() failed: %v", err)
		}
		if msg.ID == "" {
			t.Error("Send() did not assign an ID")
		}
		if msg.SenderID != teacher.ID || msg.RecipientID != student.ID {
			t.Errorf("Send() participants = (%s, %s); want (%s, %s)", msg.SenderID, msg.RecipientID, teacher.ID, student.ID)
		}
		if msg.Content != "Homework due Friday." {
			t.Errorf("Send() content = %q; want it trimmed", msg.Content)
		}
		if msg.Read {
			t.Error("Send() created an already-read message")
		}
		if msg.SentAt.IsZero() {
			t.Error("Send() did not stamp SentAt")
		}

		// the recipient is notified
		if n := len(emailsvc.SentMessages); n != 1 {
			t.Fatalf("expected 1 notification email, got %d", n)
		}
		mail := emailsvc.SentMessages[0]
		if mail.To[0].Address != student.Email {
			t.Errorf("notification sent to %s; want %s", mail.To[0].Address, student.Email)
		}
		if !strings.Contains(mail.Subject, teacher.Name) {
			t.Errorf("notification subject %q misses the sender name", mail.Subject)
		}
	})

	t.Run("both directions share one conversation", func(t *testing.T) {
		if _, err := app.svc.Send(ctx, student.ID, messaging.NewMessage{RecipientID: teacher.ID, Content: "Understood!"}); err != nil {
			t.Fatalf("Send() failed: %v", err)
		}
		for _, usrID := range []string{teacher.ID, student.ID} {
			convs, err := app.svc.ListConversations(ctx, usrID)
			if err != nil {
				t.Fatalf("ListConversations() failed: %v", err)
			}
			if len(convs) != 1 {
				t.Errorf("user %s sees %d conversations; want 1", usrID, len(convs))
			}
		}
	})
}

func Test_service_Send_snippetTruncation(t *testing.T) {
	app := setup(t)
	teacher := testutil.CreateUser(t, app.usrRepo, "Mr. Mo", "mo", "mo@darasa.cd", "pwd", []string{user.RoleTeacher}, true)
	student := testutil.CreateUser(t, app.usrRepo, "Awe", "awe", "awe@darasa.cd", "pwd", []string{user.RoleStudent}, true)

	long := strings.Repeat("a", 150)
	if _, err := app.svc.Send(ctx, teacher.ID, messaging.NewMessage{RecipientID: student.ID, Content: long}); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	convs, err := app.svc.ListConversations(ctx, student.ID)
	if err != nil {
		t.Fatalf("ListConversations() failed: %v", err)
	}
	snippet := convs[0].LastMessageSnippet
	if n := len([]rune(snippet)); n != messaging.SnippetMaxLen {
		t.Errorf("snippet is %d runes; want %d", n, messaging.SnippetMaxLen)
	}
	if !strings.HasSuffix(snippet, "…") {
		t.Errorf("truncated snippet %q misses the ellipsis", snippet)
	}

	// the message itself is stored in full
	msgs, err := app.svc.ListMessages(ctx, convs[0].ConversationID, student.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages() failed: %v", err)
	}
	if msgs[0].Content != long {
		t.Error("message content was truncated; only the snippet should be")
	}
}

func Test_service_ListConversations(t *testing.T) {
	app := setup(t)
	teacher := testutil.CreateUser(t, app.usrRepo, "Mr. Mo", "mo", "mo@darasa.cd", "pwd", []string{user.RoleTeacher}, true)
	student1 := testutil.CreateUser(t, app.usrRepo, "Awe", "awe", "awe@darasa.cd", "pwd", []string{user.RoleStudent}, true)
	student2 := testutil.CreateUser(t, app.usrRepo, "Bintu", "bintu", "bintu@darasa.cd", "pwd", []string{user.RoleStudent}, true)

	t.Run("empty", func(t *testing.T) {
		convs, err := app.svc.ListConversations(ctx, teacher.ID)
		if err != nil {
			t.Fatalf("ListConversations() failed: %v", err)
		}
		if len(convs) != 0 {
			t.Errorf("got %d conversations; want none", len(convs))
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		if _, err := app.svc.ListConversations(ctx, "deadbeef"); errors.Cause(err) != user.ErrNotFound {
			t.Errorf("ListConversations() error = %v, want %v", err, user.ErrNotFound)
		}
	})

	// teacher messages student1 twice then student2 once;
	// student2's thread is now the most recent.
	for _, send := range []struct {
		to      user.User
		content string
	}{
		{student1, "Quiz tomorrow."},
		{student1, "Bring your notebooks."},
		{student2, "Please see me after class."},
	} {
		if _, err := app.svc.Send(ctx, teacher.ID, messaging.NewMessage{RecipientID: send.to.ID, Content: send.content}); err != nil {
			t.Fatalf("Send() failed: %v", err)
		}
	}

	t.Run("recency order, counterpart and unread counts", func(t *testing.T) {
		convs, err := app.svc.ListConversations(ctx, teacher.ID)
		if err != nil {
			t.Fatalf("ListConversations() failed: %v", err)
		}
		if len(convs) != 2 {
			t.Fatalf("got %d conversations; want 2", len(convs))
		}
		if convs[0].Counterpart.ID != student2.ID || convs[1].Counterpart.ID != student1.ID {
			t.Errorf("conversations out of recency order: %s, %s", convs[0].Counterpart.Name, convs[1].Counterpart.Name)
		}
		if convs[0].Counterpart.Role != "student" {
			t.Errorf("counterpart role = %q; want student", convs[0].Counterpart.Role)
		}
		// the sender reads their own sends
		for _, conv := range convs {
			if conv.UnreadCount != 0 {
				t.Errorf("sender has %d unread in the %s thread; want 0", conv.UnreadCount, conv.Counterpart.Name)
			}
		}
		if convs[1].LastMessageSnippet != "Bring your notebooks." {
			t.Errorf("snippet = %q; want the latest message", convs[1].LastMessageSnippet)
		}
	})

	t.Run("recipient unread accumulates", func(t *testing.T) {
		convs, err := app.svc.ListConversations(ctx, student1.ID)
		if err != nil {
			t.Fatalf("ListConversations() failed: %v", err)
		}
		if len(convs) != 1 {
			t.Fatalf("got %d conversations; want 1", len(convs))
		}
		if convs[0].UnreadCount != 2 {
			t.Errorf("unread = %d; want 2", convs[0].UnreadCount)
		}
		if convs[0].Counterpart.ID != teacher.ID {
			t.Errorf("counterpart = %s; want %s", convs[0].Counterpart.ID, teacher.ID)
		}
	})
}

func Test_service_ListMessages(t *testing.T) {
	app := setup(t)
	teacher := testutil.CreateUser(t, app.usrRepo, "Mr. Mo", "mo", "mo@darasa.cd", "pwd", []string{user.RoleTeacher}, true)
	student := testutil.CreateUser(t, app.usrRepo, "Awe", "awe", "awe@darasa.cd", "pwd", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, app.usrRepo, "Bintu", "bintu", "bintu@darasa.cd", "pwd", []string{user.RoleStudent}, true)

	contents := []string{"A", "B", "C"}
	for _, c := range contents {
		if _, err := app.svc.Send(ctx, teacher.ID, messaging.NewMessage{RecipientID: student.ID, Content: c}); err != nil {
			t.Fatalf("Send() failed: %v", err)
		}
	}
	convs, err := app.svc.ListConversations(ctx, student.ID)
	if err != nil {
		t.Fatalf("ListConversations() failed: %v", err)
	}
	convID := convs[0].ConversationID

	t.Run("chronological order", func(t *testing.T) {
		msgs, err := app.svc.ListMessages(ctx, convID, student.ID, 0)
		if err != nil {
			t.Fatalf("ListMessages() failed: %v", err)
		}
		if len(msgs) != len(contents) {
			t.Fatalf("got %d messages; want %d", len(msgs), len(contents))
		}
		for i, want := range contents {
			if msgs[i].Content != want {
				t.Errorf("msgs[%d].Content = %q; want %q", i, msgs[i].Content, want)
			}
		}
	})

	t.Run("limit keeps the newest", func(t *testing.T) {
		msgs, err := app.svc.ListMessages(ctx, convID, student.ID, 2)
		if err != nil {
			t.Fatalf("ListMessages() failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("got %d messages; want 2", len(msgs))
		}
		if msgs[0].Content != "B" || msgs[1].Content != "C" {
			t.Errorf("got (%q, %q); want (B, C)", msgs[0].Content, msgs[1].Content)
		}
	})

	t.Run("negative limit", func(t *testing.T) {
		_, err := app.svc.ListMessages(ctx, convID, student.ID, -1)
		fieldError(t, err, "limit")
	})

	t.Run("default limit", func(t *testing.T) {
		for i := 0; i < messaging.DefaultPageSize; i++ {
			if _, err := app.svc.Send(ctx, student.ID, messaging.NewMessage{RecipientID: teacher.ID, Content: fmt.Sprintf("reply %d", i)}); err != nil {
				t.Fatalf("Send() failed: %v", err)
			}
		}
		msgs, err := app.svc.ListMessages(ctx, convID, student.ID, 0)
		if err != nil {
			t.Fatalf("ListMessages() failed: %v", err)
		}
		if len(msgs) != messaging.DefaultPageSize {
			t.Errorf("got %d messages; want %d", len(msgs), messaging.DefaultPageSize)
		}
		// the oldest messages fall off first
		if msgs[0].Content == "A" {
			t.Error("oldest message still present past the page size")
		}
	})

	t.Run("non participant", func(t *testing.T) {
		if _, err := app.svc.ListMessages(ctx, convID, other.ID, 0); errors.Cause(err) != messaging.ErrNotParticipant {
			t.Errorf("ListMessages() error = %v, want %v", err, messaging.ErrNotParticipant)
		}
	})

	t.Run("unknown conversation", func(t *testing.T) {
		if _, err := app.svc.ListMessages(ctx, "deadbeef", student.ID, 0); errors.Cause(err) != messaging.ErrConversationNotFound {
			t.Errorf("ListMessages() error = %v, want %v", err, messaging.ErrConversationNotFound)
		}
	})
}

func Test_service_MarkConversationRead(t *testing.T) {
	app := setup(t)
	teacher := testutil.CreateUser(t, app.usrRepo, "Mr. Mo", "mo", "mo@darasa.cd", "pwd", []string{user.RoleTeacher}, true)
	student := testutil.CreateUser(t, app.usrRepo, "Awe", "awe", "awe@darasa.cd", "pwd", []string{user.RoleStudent}, true)
	other := testutil.CreateUser(t, app.usrRepo, "Bintu", "bintu", "bintu@darasa.cd", "pwd", []string{user.RoleStudent}, true)

	for i := 0; i < 3; i++ {
		if _, err := app.svc.Send(ctx, teacher.ID, messaging.NewMessage{RecipientID: student.ID, Content: fmt.Sprintf("note %d", i)}); err != nil {
			t.Fatalf("Send() failed: %v", err)
		}
	}
	if _, err := app.svc.Send(ctx, student.ID, messaging.NewMessage{RecipientID: teacher.ID, Content: "ack"}); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	convs, err := app.svc.ListConversations(ctx, student.ID)
	if err != nil {
		t.Fatalf("ListConversations() failed: %v", err)
	}
	convID := convs[0].ConversationID

	unreadFor := func(t *testing.T, usrID string) int {
		t.Helper()
		convs, err := app.svc.ListConversations(ctx, usrID)
		if err != nil {
			t.Fatalf("ListConversations() failed: %v", err)
		}
		return convs[0].UnreadCount
	}

	t.Run("errors", func(t *testing.T) {
		if err := app.svc.MarkConversationRead(ctx, "deadbeef", student.ID); errors.Cause(err) != messaging.ErrConversationNotFound {
			t.Errorf("MarkConversationRead() error = %v, want %v", err, messaging.ErrConversationNotFound)
		}
		if err := app.svc.MarkConversationRead(ctx, convID, other.ID); errors.Cause(err) != messaging.ErrNotParticipant {
			t.Errorf("MarkConversationRead() error = %v, want %v", err, messaging.ErrNotParticipant)
		}
	})

	t.Run("resets the reader's counter only", func(t *testing.T) {
		if got := unreadFor(t, student.ID); got != 3 {
			t.Fatalf("student unread = %d; want 3", got)
		}
		if err := app.svc.MarkConversationRead(ctx, convID, student.ID); err != nil {
			t.Fatalf("MarkConversationRead() failed: %v", err)
		}
		if got := unreadFor(t, student.ID); got != 0 {
			t.Errorf("student unread = %d; want 0", got)
		}
		// the teacher's unanswered "ack" stays unread
		if got := unreadFor(t, teacher.ID); got != 1 {
			t.Errorf("teacher unread = %d; want 1", got)
		}

		// incoming messages are flagged read, the outgoing one is untouched
		msgs, err := app.svc.ListMessages(ctx, convID, student.ID, 0)
		if err != nil {
			t.Fatalf("ListMessages() failed: %v", err)
		}
		for _, msg := range msgs {
			if msg.RecipientID == student.ID && !msg.Read {
				t.Errorf("message %q still unread", msg.Content)
			}
			if msg.RecipientID == teacher.ID && msg.Read {
				t.Errorf("message %q read without the teacher opening it", msg.Content)
			}
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		if err := app.svc.MarkConversationRead(ctx, convID, student.ID); err != nil {
			t.Fatalf("MarkConversationRead() failed: %v", err)
		}
		if got := unreadFor(t, student.ID); got != 0 {
			t.Errorf("student unread = %d; want 0", got)
		}
	})

	t.Run("messages keep their content after reading", func(t *testing.T) {
		msgs, err := app.svc.ListMessages(ctx, convID, student.ID, 0)
		if err != nil {
			t.Fatalf("ListMessages() failed: %v", err)
		}
		want := []string{"note 0", "note 1", "note 2", "ack"}
		if len(msgs) != len(want) {
			t.Fatalf("got %d messages; want %d", len(msgs), len(want))
		}
		for i, w := range want {
			if msgs[i].Content != w {
				t.Errorf("msgs[%d].Content = %q; want %q", i, msgs[i].Content, w)
			}
		}
	})
}
