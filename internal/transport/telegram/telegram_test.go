package telegram

import (
	"context"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "checktime/internal/transport"
	logx "checktime/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, logx.Nop())
	assert.Error(t, err)

	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)
	assert.NoError(t, a.Stop(context.Background()), "stop before start is a no-op")
}

func TestToUpdate(t *testing.T) {
	_, ok := toUpdate(nil)
	assert.False(t, ok)

	up, ok := toUpdate(&tele.Message{
		ID:     10,
		Text:   "/chatid",
		Chat:   &tele.Chat{ID: 555, Type: tele.ChatPrivate},
		Sender: &tele.User{ID: 42, Username: "ana"},
	})
	require.True(t, ok)
	assert.Equal(t, kit.UpdateMessage, up.Kind)
	assert.Equal(t, &kit.Message{ID: 10, ChatID: 555, FromID: 42, FromUsername: "ana", Text: "/chatid"}, up.Message)

	up, ok = toUpdate(&tele.Message{Chat: &tele.Chat{ID: -1, Type: tele.ChatGroup}})
	require.True(t, ok)
	assert.True(t, up.Message.IsGroup)
	assert.Zero(t, up.Message.FromID)
}

func TestBuildMenu(t *testing.T) {
	menu, sum := buildMenu([]kit.BotCommand{
		{Command: "/chatid", Description: "Show this chat's id"},
		{Command: ""},
		{Command: "status"},
		{Command: "long", Description: strings.Repeat("x", 300)},
	})
	require.Len(t, menu, 3)
	assert.Equal(t, "chatid", menu[0].Text)
	assert.Equal(t, "status", menu[1].Description)
	assert.Len(t, menu[2].Description, 256)

	_, again := buildMenu([]kit.BotCommand{
		{Command: "chatid", Description: "Show this chat's id"},
		{Command: "status"},
		{Command: "long", Description: strings.Repeat("x", 300)},
	})
	assert.Equal(t, sum, again)
}
