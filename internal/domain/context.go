package domain

import (
	"context"
	"sync"
	"time"
)

// ChatInfo locates the conversation a message belongs to.
type ChatInfo struct {
	Platform string   `json:"platform"`
	ChatID   string   `json:"chatId"`
	Channel  ChatType `json:"channel"`
	Sender   Sender   `json:"sender"`
}

// MessageContext is the per-message object handed to plugin handlers. It
// collects responses in reply order and forwards them to the originating
// channel when one is bound. It is safe for concurrent use.
type MessageContext struct {
	Text        string
	Args        []string
	Timestamp   time.Time
	Chat        ChatInfo
	Mentions    []string
	Quoted      *QuotedMessage
	Attachments []Attachment

	channel     Channel
	onSendError func(error)

	mu        sync.Mutex
	responses []Response
}

// NewMessageContext builds a context for msg. ch may be nil, in which case
// replies are only collected.
func NewMessageContext(msg InboundMessage, args []string, ch Channel) *MessageContext {
	return &MessageContext{
		Text:      msg.Text,
		Args:      args,
		Timestamp: msg.Timestamp,
		Chat: ChatInfo{
			Platform: msg.Platform,
			ChatID:   msg.ChatID,
			Channel:  msg.Channel,
			Sender:   msg.Sender,
		},
		Mentions:    msg.Mentions,
		Quoted:      msg.Quoted,
		Attachments: msg.Attachments,
		channel:     ch,
	}
}

// OnSendError registers a callback for channel delivery failures. Delivery
// errors never fail the handler that produced the reply.
func (c *MessageContext) OnSendError(fn func(error)) {
	c.onSendError = fn
}

// Reply records a text response and delivers it.
func (c *MessageContext) Reply(ctx context.Context, text string) Response {
	return c.ReplyAs(ctx, text, ResponseText)
}

// ReplyAs records a response of the given type and delivers it.
func (c *MessageContext) ReplyAs(ctx context.Context, text, typ string) Response {
	if typ == "" {
		typ = ResponseText
	}
	resp := Response{Text: text, Type: typ, Timestamp: time.Now().UnixMilli()}
	c.record(resp)

	if c.channel != nil {
		c.deliverErr(c.channel.Send(ctx, c.Chat.ChatID, resp))
	}
	return resp
}

// SendMedia records a media response and delivers it through the channel's
// MediaSender when it has one.
func (c *MessageContext) SendMedia(ctx context.Context, m Media) Response {
	resp := Response{
		Type:      ResponseMedia,
		Timestamp: time.Now().UnixMilli(),
		URL:       m.URL,
		Caption:   m.Caption,
		FileName:  m.FileName,
		MimeType:  m.MimeType,
	}
	c.record(resp)

	if ms, ok := c.channel.(MediaSender); ok {
		c.deliverErr(ms.SendMedia(ctx, c.Chat.ChatID, resp))
	}
	return resp
}

// RemoveParticipant asks the channel to remove userID from the chat.
func (c *MessageContext) RemoveParticipant(ctx context.Context, userID string) (ParticipantResult, error) {
	if pr, ok := c.channel.(ParticipantRemover); ok {
		return pr.RemoveParticipant(ctx, c.Chat.ChatID, userID)
	}
	return ParticipantResult{Success: false, Error: "Not supported in this platform"}, nil
}

// Roster lists the chat's members, or nothing when the channel can't.
func (c *MessageContext) Roster(ctx context.Context) ([]Member, error) {
	if rp, ok := c.channel.(RosterProvider); ok {
		return rp.Roster(ctx, c.Chat.ChatID)
	}
	return []Member{}, nil
}

// Responses returns a copy of the responses produced so far.
func (c *MessageContext) Responses() []Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Response, len(c.responses))
	copy(out, c.responses)
	return out
}

func (c *MessageContext) record(resp Response) {
	c.mu.Lock()
	c.responses = append(c.responses, resp)
	c.mu.Unlock()
}

func (c *MessageContext) deliverErr(err error) {
	if err != nil && c.onSendError != nil {
		c.onSendError(err)
	}
}
