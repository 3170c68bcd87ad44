package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wadigest/internal/ai"
	"wadigest/internal/database"
)

type fakeAI struct {
	score        int
	scoreErr     error
	translated   string
	translateErr error

	mu       sync.Mutex
	analyzed []string
}

func (f *fakeAI) AnalyzeImportance(_ context.Context, content, _, _ string, _ bool) (int, error) {
	f.mu.Lock()
	f.analyzed = append(f.analyzed, content)
	f.mu.Unlock()
	if f.scoreErr != nil {
		return 0, f.scoreErr
	}
	return f.score, nil
}

func (f *fakeAI) Translate(_ context.Context, content string) (string, error) {
	if f.translateErr != nil {
		return "", f.translateErr
	}
	if f.translated != "" {
		return f.translated, nil
	}
	return content, nil
}

func (f *fakeAI) CreateDigest(context.Context, []ai.ChatDigest) (string, error) {
	return "", errors.New("not used in pipeline tests")
}

type urgentCall struct {
	channelID string
	chatName  string
	sender    string
	content   string
}

type fakeNotifier struct {
	mu            sync.Mutex
	notifications []string
	urgents       []urgentCall
}

func (f *fakeNotifier) SendNotification(_ context.Context, _, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, text)
	return true
}

func (f *fakeNotifier) SendDigest(context.Context, string, string, int, int) bool {
	return true
}

func (f *fakeNotifier) SendUrgentAlert(_ context.Context, channelID, chatName, sender, content string, _ time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urgents = append(f.urgents, urgentCall{channelID, chatName, sender, content})
	return true
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.ApplyMigrations(db.DB, ":memory:"))
	return database.NewStore(db, nil)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	pipeline *Pipeline
	store    database.Store
	ai       *fakeAI
	notifier *fakeNotifier
	user     *database.User
	chat     *database.MonitoredChat
}

func newFixture(t *testing.T, aiClient *fakeAI) *fixture {
	t.Helper()

	store := newTestStore(t)
	notifier := &fakeNotifier{}
	p := New(store, aiClient, notifier, 5, discardLogger())

	user := &database.User{
		Username:            "alice",
		Email:               "alice@example.com",
		HashedPassword:      "x",
		TelegramChannelID:   sql.NullString{String: "-100500", Valid: true},
		DigestIntervalHours: 4,
		IsActive:            true,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))

	chat := &database.MonitoredChat{
		UserID:   user.ID,
		ChatID:   "family@g.us",
		ChatName: "Family",
		ChatType: "group",
		IsActive: true,
	}
	require.NoError(t, store.CreateMonitoredChat(context.Background(), chat))

	return &fixture{pipeline: p, store: store, ai: aiClient, notifier: notifier, user: user, chat: chat}
}

func validMessage(f *fixture) MessageIn {
	return MessageIn{
		UserID:     strconv.FormatInt(f.user.ID, 10),
		ChatID:     f.chat.ChatID,
		ChatName:   "Family",
		MessageID:  "wamid.test.1",
		Sender:     "Bob",
		Content:    "we need to talk about the plan",
		Timestamp:  "2024-01-01T12:00:00Z",
		Importance: 2,
	}
}

func TestIntakeInvalidUserID(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 3})

	msg := validMessage(f)
	msg.UserID = "not-a-number"

	_, err := f.pipeline.Intake(context.Background(), msg)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestIntakeMissingIdentifiers(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 3})

	msg := validMessage(f)
	msg.MessageID = ""

	_, err := f.pipeline.Intake(context.Background(), msg)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestIntakeRejectsAllMarkupChatName(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 3})

	msg := validMessage(f)
	msg.ChatName = `<">'&`

	_, err := f.pipeline.Intake(context.Background(), msg)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestIntakeUnknownUser(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 3})

	msg := validMessage(f)
	msg.UserID = "9999"

	_, err := f.pipeline.Intake(context.Background(), msg)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestIntakeSuspendedUser(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 3})
	require.NoError(t, f.store.SetUserActive(context.Background(), f.user.ID, false))

	res, err := f.pipeline.Intake(context.Background(), validMessage(f))
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, res.Status)
}

func TestIntakeUnmonitoredChat(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 3})

	msg := validMessage(f)
	msg.ChatID = "strangers@g.us"

	res, err := f.pipeline.Intake(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, res.Status)

	// Deactivated subscriptions behave like unmonitored chats.
	require.NoError(t, f.store.SetMonitoredChatActive(context.Background(), f.chat.ID, f.user.ID, false))
	res, err = f.pipeline.Intake(context.Background(), validMessage(f))
	require.NoError(t, err)
	assert.Equal(t, StatusIgnored, res.Status)
}

func TestIntakeDuplicate(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 3})

	msg := validMessage(f)
	require.NoError(t, f.store.SaveMessage(context.Background(), &database.WhatsAppMessage{
		ChatID:          f.chat.ID,
		MessageID:       msg.MessageID,
		Sender:          "Bob",
		Content:         "earlier copy",
		Timestamp:       time.Now().UTC(),
		ImportanceScore: 3,
	}))

	res, err := f.pipeline.Intake(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
}

func TestIntakeQueuesAndSaves(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 4})

	res, err := f.pipeline.Intake(context.Background(), validMessage(f))
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)

	f.pipeline.Wait()

	saved, err := f.store.GetMessageByExternalID(context.Background(), "wamid.test.1")
	require.NoError(t, err)
	// AI score beats the bridge hint.
	assert.Equal(t, 4, saved.ImportanceScore)
	assert.Equal(t, "we need to talk about the plan", saved.Content)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), saved.Timestamp.UTC())
	assert.Empty(t, f.notifier.urgents)
}

func TestIntakeStoresUnclampedHint(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 3})

	msg := validMessage(f)
	msg.Importance = 7

	res, err := f.pipeline.Intake(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)

	f.pipeline.Wait()

	saved, err := f.store.GetMessageByExternalID(context.Background(), msg.MessageID)
	require.NoError(t, err)
	// The bridge hint wins untouched even when it exceeds the 1-5 scale.
	assert.Equal(t, 7, saved.ImportanceScore)
}

func TestIntakeAIFailureKeepsHint(t *testing.T) {
	f := newFixture(t, &fakeAI{scoreErr: errors.New("model unavailable")})

	msg := validMessage(f)
	msg.Importance = 4

	res, err := f.pipeline.Intake(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)

	f.pipeline.Wait()

	saved, err := f.store.GetMessageByExternalID(context.Background(), msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, 4, saved.ImportanceScore)
}

func TestIntakeUrgentAlert(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 5, translated: "нужно срочно поговорить"})

	res, err := f.pipeline.Intake(context.Background(), validMessage(f))
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)

	f.pipeline.Wait()

	require.Len(t, f.notifier.urgents, 1)
	alert := f.notifier.urgents[0]
	assert.Equal(t, "-100500", alert.channelID)
	assert.Equal(t, "Family", alert.chatName)
	assert.Equal(t, "Bob", alert.sender)
	assert.Equal(t, "нужно срочно поговорить", alert.content)
}

func TestIntakeUrgentAlertPrefersCustomChatName(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 5})

	chat := &database.MonitoredChat{
		UserID:     f.user.ID,
		ChatID:     "work@g.us",
		ChatName:   "Work",
		CustomName: sql.NullString{String: "Работа", Valid: true},
		ChatType:   "group",
		IsActive:   true,
	}
	require.NoError(t, f.store.CreateMonitoredChat(context.Background(), chat))

	msg := validMessage(f)
	msg.ChatID = chat.ChatID
	msg.ChatName = chat.ChatName

	_, err := f.pipeline.Intake(context.Background(), msg)
	require.NoError(t, err)
	f.pipeline.Wait()

	require.Len(t, f.notifier.urgents, 1)
	assert.Equal(t, "Работа", f.notifier.urgents[0].chatName)
}

func TestIntakeUrgentAlertSkippedWithoutChannel(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 5})

	got, err := f.store.GetUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	got.TelegramChannelID = sql.NullString{}
	require.NoError(t, f.store.UpdateUser(context.Background(), got))

	_, err = f.pipeline.Intake(context.Background(), validMessage(f))
	require.NoError(t, err)
	f.pipeline.Wait()

	assert.Empty(t, f.notifier.urgents)
}

func TestIntakeTranslationFailureFallsBack(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 5, translateErr: errors.New("model unavailable")})

	_, err := f.pipeline.Intake(context.Background(), validMessage(f))
	require.NoError(t, err)
	f.pipeline.Wait()

	require.Len(t, f.notifier.urgents, 1)
	assert.Equal(t, "we need to talk about the plan", f.notifier.urgents[0].content)
}

func TestIntakeDropsEmptySanitizedContent(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 5})

	msg := validMessage(f)
	msg.Content = "<script>"

	res, err := f.pipeline.Intake(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, res.Status)

	f.pipeline.Wait()

	_, err = f.store.GetMessageByExternalID(context.Background(), msg.MessageID)
	assert.ErrorIs(t, err, database.ErrNotFound)
	assert.Empty(t, f.ai.analyzed)
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	utcNoon := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		raw    string
		want   time.Time
		parsed bool
	}{
		{"rfc3339 zulu", "2024-01-01T12:00:00Z", utcNoon, true},
		{"rfc3339 offset", "2024-01-01T15:00:00+03:00", utcNoon, true},
		{"bare iso", "2024-01-01T12:00:00", utcNoon, true},
		{"space separated with UTC suffix", "2024-01-01 12:00:00 UTC", utcNoon, true},
		{"garbage", "yesterday-ish", time.Time{}, false},
		{"empty", "", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, parsed := parseTimestamp(tt.raw)
			assert.Equal(t, tt.parsed, parsed)
			if tt.parsed {
				assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
			} else {
				assert.WithinDuration(t, time.Now().UTC(), got, time.Minute)
			}
		})
	}
}

func TestConnectionEvents(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 3})
	ctx := context.Background()

	require.NoError(t, f.pipeline.Connected(ctx, "1"))
	f.pipeline.Wait()

	user, err := f.store.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, user.WhatsAppConnected)
	assert.Equal(t, "session_1", user.WhatsAppSessionID.String)

	require.NoError(t, f.pipeline.Disconnected(ctx, "1"))
	f.pipeline.Wait()

	user, err = f.store.GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.False(t, user.WhatsAppConnected)

	require.Len(t, f.notifier.notifications, 2)
	assert.Contains(t, f.notifier.notifications[0], "alice")
	assert.Contains(t, f.notifier.notifications[1], "alice")
}

func TestConnectionUnknownUserIsNoOp(t *testing.T) {
	f := newFixture(t, &fakeAI{score: 3})

	assert.NoError(t, f.pipeline.Connected(context.Background(), "9999"))
	assert.NoError(t, f.pipeline.Disconnected(context.Background(), "9999"))
	assert.ErrorIs(t, f.pipeline.Connected(context.Background(), "abc"), ErrInvalidPayload)
}
