package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptagent/internal/bus"
	"scriptagent/internal/domain"
)

type fakeBot struct {
	mu       sync.Mutex
	messages []tgbotapi.MessageConfig
	failures int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, nil
	}
	if f.failures > 0 {
		f.failures--
		return tgbotapi.Message{}, errors.New("Bad Gateway")
	}
	f.messages = append(f.messages, msg)
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.messages {
		out = append(out, m.Text)
	}
	return out
}

func newTestTelegram(t *testing.T, allow ...string) (*Telegram, *fakeBot, *bus.InMemoryBus) {
	t.Helper()
	b := bus.New(4, testLogger())
	t.Cleanup(b.Close)
	tg := NewTelegram(TelegramConfig{Token: "x", AllowFrom: allow, Logger: testLogger()})
	tg.backoff = time.Millisecond
	bot := &fakeBot{}
	tg.attach(bot, b)
	return tg, bot, b
}

func update(userID, chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
		Date: int(time.Now().Unix()),
	}}
}

func TestTelegram_PublishesAllowedMessages(t *testing.T) {
	tg, _, b := newTestTelegram(t, "42", " 7 ", "not-a-number")
	assert.Equal(t, []int64{42, 7}, tg.allowFrom)

	tg.handleUpdate(context.Background(), update(42, 100, "  Calculate 2 + 2  "))

	select {
	case msg := <-b.Subscribe():
		assert.Equal(t, "telegram", msg.Channel)
		assert.Equal(t, "100", msg.ChatID)
		assert.Equal(t, "42", msg.SenderID)
		assert.Equal(t, "Calculate 2 + 2", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("message was not published")
	}
}

func TestTelegram_RejectsUnknownUsers(t *testing.T) {
	tg, bot, b := newTestTelegram(t, "42")

	tg.handleUpdate(context.Background(), update(13, 100, "hello"))

	assert.Len(t, b.Subscribe(), 0)
	require.Len(t, bot.texts(), 1)
	assert.Contains(t, bot.texts()[0], "Unauthorized")
}

func TestTelegram_IgnoresEmptyUpdates(t *testing.T) {
	tg, bot, b := newTestTelegram(t)
	tg.handleUpdate(context.Background(), tgbotapi.Update{})
	tg.handleUpdate(context.Background(), update(1, 1, "   "))
	assert.Len(t, b.Subscribe(), 0)
	assert.Empty(t, bot.texts())
}

func TestTelegram_OutboundReply(t *testing.T) {
	_, bot, b := newTestTelegram(t)

	require.NoError(t, b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "100", Content: `{"notes":[]}`}))
	assert.Equal(t, []string{`{"notes":[]}`}, bot.texts())

	require.NoError(t, b.SendOutbound(domain.OutboundMessage{Channel: "telegram", ChatID: "abc", Content: "x"}))
	assert.Len(t, bot.texts(), 1, "invalid chat id is dropped")
}

func TestTelegram_SendRetries(t *testing.T) {
	tg, bot, _ := newTestTelegram(t)
	bot.failures = 2

	require.NoError(t, tg.Send(context.Background(), "5", "hi"))
	assert.Equal(t, []string{"hi"}, bot.texts())

	assert.Error(t, tg.Send(context.Background(), "five", "hi"))
}

func TestSplitMessage(t *testing.T) {
	assert.Nil(t, splitMessage("", 10))
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	chunks := splitMessage(strings.Repeat("a", 25), 10)
	assert.Equal(t, []string{strings.Repeat("a", 10), strings.Repeat("a", 10), strings.Repeat("a", 5)}, chunks)

	chunks = splitMessage("aaaaaaa\nbbbbbbbbb", 10)
	assert.Equal(t, []string{"aaaaaaa", "\nbbbbbbbbb"}, chunks)
}
