package digest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wadigest/internal/ai"
	"wadigest/internal/database"
)

type fakeAI struct {
	digestErr error
	calls     [][]ai.ChatDigest
}

func (f *fakeAI) AnalyzeImportance(context.Context, string, string, string, bool) (int, error) {
	return 0, errors.New("not used in digest tests")
}

func (f *fakeAI) Translate(_ context.Context, content string) (string, error) {
	return content, nil
}

func (f *fakeAI) CreateDigest(_ context.Context, chats []ai.ChatDigest) (string, error) {
	f.calls = append(f.calls, chats)
	if f.digestErr != nil {
		return "", f.digestErr
	}
	var names []string
	for _, c := range chats {
		names = append(names, c.ChatName)
	}
	return "digest of " + strings.Join(names, ", "), nil
}

type digestCall struct {
	channelID     string
	content       string
	messageCount  int
	intervalHours int
}

type fakeNotifier struct {
	digestOK      bool
	digests       []digestCall
	notifications []string
}

func (f *fakeNotifier) SendNotification(_ context.Context, _, text string) bool {
	f.notifications = append(f.notifications, text)
	return true
}

func (f *fakeNotifier) SendDigest(_ context.Context, channelID, content string, messageCount, intervalHours int) bool {
	f.digests = append(f.digests, digestCall{channelID, content, messageCount, intervalHours})
	return f.digestOK
}

func (f *fakeNotifier) SendUrgentAlert(context.Context, string, string, string, string, time.Time) bool {
	return true
}

type fixture struct {
	service  *Service
	store    database.Store
	ai       *fakeAI
	notifier *fakeNotifier
	user     *database.User
	chat     *database.MonitoredChat
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.ApplyMigrations(db.DB, ":memory:"))

	store := database.NewStore(db, nil)
	aiClient := &fakeAI{}
	notifier := &fakeNotifier{digestOK: true}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	service := NewService(store, aiClient, notifier, 3, 30, logger)

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
		UserID: user.ID, ChatID: "family@g.us", ChatName: "Family", ChatType: "group", IsActive: true,
	}
	require.NoError(t, store.CreateMonitoredChat(context.Background(), chat))

	return &fixture{service: service, store: store, ai: aiClient, notifier: notifier, user: user, chat: chat}
}

func (f *fixture) seedMessage(t *testing.T, id string, age time.Duration, score int) *database.WhatsAppMessage {
	t.Helper()
	msg := &database.WhatsAppMessage{
		ChatID:          f.chat.ID,
		MessageID:       id,
		Sender:          "Bob",
		Content:         "message " + id,
		Timestamp:       time.Now().UTC().Add(-age),
		ImportanceScore: score,
	}
	require.NoError(t, f.store.SaveMessage(context.Background(), msg))
	return msg
}

func TestSweepSendsDigest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedMessage(t, "m1", time.Hour, 4)
	f.seedMessage(t, "m2", 2*time.Hour, 3)
	f.seedMessage(t, "m3", time.Hour, 2) // below threshold, stays out

	f.service.RunSweep(ctx)

	require.Len(t, f.notifier.digests, 1)
	got := f.notifier.digests[0]
	assert.Equal(t, "-100500", got.channelID)
	assert.Equal(t, "digest of Family", got.content)
	assert.Equal(t, 2, got.messageCount)
	assert.Equal(t, 4, got.intervalHours)

	last, err := f.store.GetLastDigestLog(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, last.TelegramSent)
	assert.Equal(t, 2, last.MessageCount)

	// Included messages are consumed, the low-score one is not.
	msgs, err := f.store.ListDigestMessages(ctx, f.chat.ID, time.Now().UTC().Add(-24*time.Hour), 3)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	low, err := f.store.GetMessageByExternalID(ctx, "m3")
	require.NoError(t, err)
	assert.False(t, low.IsProcessed)

	// The digest just went out, a second sweep is not due yet.
	f.service.RunSweep(ctx)
	assert.Len(t, f.notifier.digests, 1)
}

func TestSweepRespectsInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedMessage(t, "m1", time.Hour, 4)
	f.service.RunSweep(ctx)
	require.Len(t, f.notifier.digests, 1)

	f.seedMessage(t, "m2", time.Minute, 4)
	f.service.RunSweep(ctx)
	assert.Len(t, f.notifier.digests, 1)

	// Move the clock past the user's interval.
	f.service.now = func() time.Time { return time.Now().Add(5 * time.Hour) }
	f.service.RunSweep(ctx)
	assert.Len(t, f.notifier.digests, 1, "message m2 is outside the shifted window")
}

func TestSweepDueAfterInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.service.RunSweep(ctx)
	assert.Empty(t, f.notifier.digests, "no messages means no digest")

	// No digest log was written, so the user stays due. Seed a message and
	// the next sweep delivers.
	f.seedMessage(t, "m1", time.Hour, 5)
	f.service.RunSweep(ctx)
	assert.Len(t, f.notifier.digests, 1)
}

func TestSweepSkipsUsersWithoutMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.service.RunSweep(ctx)

	assert.Empty(t, f.notifier.digests)
	assert.Empty(t, f.ai.calls)
	_, err := f.store.GetLastDigestLog(ctx, f.user.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSweepRecordsDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.digestOK = false
	ctx := context.Background()

	f.seedMessage(t, "m1", time.Hour, 4)
	f.service.RunSweep(ctx)

	last, err := f.store.GetLastDigestLog(ctx, f.user.ID)
	require.NoError(t, err)
	assert.False(t, last.TelegramSent)
	assert.True(t, last.TelegramError.Valid)
}

func TestSweepComposeFailureLeavesNoLog(t *testing.T) {
	f := newFixture(t)
	f.ai.digestErr = errors.New("model unavailable")
	ctx := context.Background()

	f.seedMessage(t, "m1", time.Hour, 4)
	f.service.RunSweep(ctx)

	assert.Empty(t, f.notifier.digests)
	_, err := f.store.GetLastDigestLog(ctx, f.user.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedMessage(t, "m.old", 40*24*time.Hour, 3)
	f.seedMessage(t, "m.new", time.Hour, 3)
	require.NoError(t, f.store.CreateDigestLog(ctx, &database.DigestLog{
		UserID: f.user.ID, DigestContent: "recent", MessageCount: 1, TelegramSent: true,
	}))

	f.service.RunCleanup(ctx)

	_, err := f.store.GetMessageByExternalID(ctx, "m.old")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = f.store.GetMessageByExternalID(ctx, "m.new")
	require.NoError(t, err)

	require.Len(t, f.notifier.notifications, 1)
	assert.Contains(t, f.notifier.notifications[0], fmt.Sprintf("Сообщений удалено: %d", 1))
}

func TestCleanupQuietWhenNothingDeleted(t *testing.T) {
	f := newFixture(t)

	f.service.RunCleanup(context.Background())
	assert.Empty(t, f.notifier.notifications)
}
