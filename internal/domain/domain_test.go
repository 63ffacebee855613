package domain

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu      sync.Mutex
	sent    []Response
	media   []Response
	sendErr error
}

func (f *fakeChannel) ID() string                     { return "fake" }
func (f *fakeChannel) Start(context.Context) error    { return nil }
func (f *fakeChannel) Stop(context.Context) error     { return nil }
func (f *fakeChannel) OnMessage(func(InboundMessage)) {}

func (f *fakeChannel) Send(_ context.Context, _ string, resp Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, resp)
	return f.sendErr
}

type groupChannel struct {
	fakeChannel
	removed []string
}

func (g *groupChannel) SendMedia(_ context.Context, _ string, resp Response) error {
	g.media = append(g.media, resp)
	return nil
}

func (g *groupChannel) RemoveParticipant(_ context.Context, chatID, userID string) (ParticipantResult, error) {
	g.removed = append(g.removed, chatID+"/"+userID)
	return ParticipantResult{Success: true}, nil
}

func (g *groupChannel) Roster(context.Context, string) ([]Member, error) {
	return []Member{{ID: "u1", Name: "One"}, {ID: "u2", Name: "Two", IsAdmin: true}}, nil
}

func testMessage() InboundMessage {
	return InboundMessage{
		Platform:  "fake",
		ChatID:    "chat-1",
		Channel:   ChatTypeGroup,
		Text:      "/ping a b",
		Timestamp: time.UnixMilli(1700000000000),
		Sender:    Sender{ID: "alice", Name: "Alice", IsAdmin: true},
		Mentions:  []string{"bob"},
	}
}

func TestMessageContextFields(t *testing.T) {
	mc := NewMessageContext(testMessage(), []string{"a", "b"}, nil)

	assert.Equal(t, "/ping a b", mc.Text)
	assert.Equal(t, []string{"a", "b"}, mc.Args)
	assert.Equal(t, "fake", mc.Chat.Platform)
	assert.Equal(t, "chat-1", mc.Chat.ChatID)
	assert.Equal(t, ChatTypeGroup, mc.Chat.Channel)
	assert.True(t, mc.Chat.Sender.IsAdmin)
	assert.Equal(t, []string{"bob"}, mc.Mentions)
}

func TestReply_PreservesOrder(t *testing.T) {
	ch := &fakeChannel{}
	mc := NewMessageContext(testMessage(), nil, ch)
	ctx := context.Background()

	mc.Reply(ctx, "one")
	mc.ReplyAs(ctx, "two", ResponseError)
	mc.ReplyAs(ctx, "three", "")

	got := mc.Responses()
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Text)
	assert.Equal(t, ResponseText, got[0].Type)
	assert.Equal(t, ResponseError, got[1].Type)
	assert.Equal(t, ResponseText, got[2].Type, "empty type defaults to text")
	assert.NotZero(t, got[0].Timestamp)

	assert.Len(t, ch.sent, 3, "every reply is delivered")
}

func TestReply_WithoutChannel(t *testing.T) {
	mc := NewMessageContext(testMessage(), nil, nil)
	mc.Reply(context.Background(), "hi")
	assert.Len(t, mc.Responses(), 1)
}

func TestSend_ErrorIsReported(t *testing.T) {
	ch := &fakeChannel{sendErr: errors.New("offline")}
	mc := NewMessageContext(testMessage(), nil, ch)

	var reported error
	mc.OnSendError(func(err error) { reported = err })

	resp := mc.Reply(context.Background(), "hi")
	assert.Equal(t, "hi", resp.Text)
	assert.EqualError(t, reported, "offline")
	assert.Len(t, mc.Responses(), 1)
}

func TestSendMedia(t *testing.T) {
	ch := &groupChannel{}
	mc := NewMessageContext(testMessage(), nil, ch)

	resp := mc.SendMedia(context.Background(), Media{URL: "https://x/y.png", Caption: "pic"})
	assert.Equal(t, ResponseMedia, resp.Type)
	assert.Equal(t, "https://x/y.png", resp.URL)
	require.Len(t, ch.media, 1)
	assert.Empty(t, ch.sent, "media goes through SendMedia only")
}

func TestGroupOperations(t *testing.T) {
	ch := &groupChannel{}
	mc := NewMessageContext(testMessage(), nil, ch)
	ctx := context.Background()

	res, err := mc.RemoveParticipant(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"chat-1/bob"}, ch.removed)

	members, err := mc.Roster(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestGroupOperations_Unsupported(t *testing.T) {
	mc := NewMessageContext(testMessage(), nil, &fakeChannel{})
	ctx := context.Background()

	res, err := mc.RemoveParticipant(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Not supported in this platform", res.Error)

	members, err := mc.Roster(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestResponseJSONShape(t *testing.T) {
	data, err := json.Marshal(Response{Text: "pong", Type: ResponseText, Timestamp: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"pong","type":"text","timestamp":42}`, string(data))
}

func TestConcurrentReplies(t *testing.T) {
	mc := NewMessageContext(testMessage(), nil, &fakeChannel{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mc.Reply(context.Background(), "x")
		}()
	}
	wg.Wait()
	assert.Len(t, mc.Responses(), 20)
}
