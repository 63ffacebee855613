package web

import (
	"context"
	"sync"
	"testing"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPusher struct {
	mu     sync.Mutex
	chats  []string
	pushed []domain.Response
}

func (p *recordingPusher) PushToChat(chatID string, resp domain.Response) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats = append(p.chats, chatID)
	p.pushed = append(p.pushed, resp)
	return 1
}

func TestFormatMessage(t *testing.T) {
	msg := FormatMessage(Message{Content: "halo @budi dan @sari", Nama: "Tomii", Session: "s-1", Photo: "https://x/p.jpg"})

	assert.Equal(t, "halo @budi dan @sari", msg.Text)
	assert.Equal(t, "s-1", msg.ChatID)
	assert.Equal(t, "web", msg.Platform)
	assert.Equal(t, domain.ChatTypeWeb, msg.Channel)
	assert.Equal(t, domain.Sender{ID: "Tomii", Name: "Tomii", IsAdmin: false}, msg.Sender)
	assert.Equal(t, []string{"budi", "sari"}, msg.Mentions)
	assert.Equal(t, []domain.Attachment{{URL: "https://x/p.jpg", Type: "image"}}, msg.Attachments)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestFormatMessage_Defaults(t *testing.T) {
	msg := FormatMessage(Message{Text: "/ping"})

	assert.Equal(t, "/ping", msg.Text, "text is used when content is empty")
	assert.Equal(t, DefaultChatID, msg.ChatID)
	assert.Equal(t, "web_user", msg.Sender.ID)
	assert.Equal(t, "Web User", msg.Sender.Name)
	assert.Empty(t, msg.Mentions, "mentions come from content only")
	assert.NotNil(t, msg.Attachments)
	assert.Empty(t, msg.Attachments)
}

func TestReceive_CallsHandler(t *testing.T) {
	ch := New(logging.New(nil, "silent"))
	var got domain.InboundMessage
	ch.OnMessage(func(msg domain.InboundMessage) { got = msg })

	out := ch.Receive(Message{Content: "hi", Session: "abc"})
	assert.Equal(t, "abc", got.ChatID)
	assert.Equal(t, out.ID, got.ID)
}

func TestReceive_WithoutHandler(t *testing.T) {
	ch := New(logging.New(nil, "silent"))
	msg := ch.Receive(Message{Content: "hi"})
	assert.Equal(t, DefaultChatID, msg.ChatID)
}

func TestSend_PushesToChat(t *testing.T) {
	ch := New(logging.New(nil, "silent"))
	ctx := context.Background()

	require.NoError(t, ch.Send(ctx, "s-1", domain.Response{Text: "dropped"}), "no pusher is not an error")

	p := &recordingPusher{}
	ch.Attach(p)
	require.NoError(t, ch.Send(ctx, "s-1", domain.Response{Text: "pong", Type: domain.ResponseText}))
	require.NoError(t, ch.SendMedia(ctx, "s-2", domain.Response{Type: domain.ResponseMedia, URL: "u"}))

	assert.Equal(t, []string{"s-1", "s-2"}, p.chats)
	assert.Equal(t, "pong", p.pushed[0].Text)
}

func TestGroupOperations(t *testing.T) {
	ch := New(logging.New(nil, "silent"))
	ctx := context.Background()

	roster, err := ch.Roster(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Member{{ID: "web_user", Name: "Web User"}}, roster)

	res, err := ch.RemoveParticipant(ctx, "s-1", "x")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Group operations not supported in web chat", res.Error)
}

func TestMessageContext_ChannelOperations(t *testing.T) {
	ch := New(logging.New(nil, "silent"))
	p := &recordingPusher{}
	ch.Attach(p)

	mc := domain.NewMessageContext(FormatMessage(Message{Content: "x", Session: "s"}), nil, ch)
	mc.SendMedia(context.Background(), domain.Media{URL: "https://x/a.png", Caption: "a"})
	require.Len(t, p.pushed, 1)
	assert.Equal(t, domain.ResponseMedia, p.pushed[0].Type)

	roster, err := mc.Roster(context.Background())
	require.NoError(t, err)
	assert.Len(t, roster, 1)
}
