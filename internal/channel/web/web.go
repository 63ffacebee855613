// Package web implements the browser chat transport. Sockets are owned by
// the gateway; this package normalizes web chat payloads and routes replies
// to whichever sockets joined the chat.
package web

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
	"github.com/google/uuid"
)

// Platform is the adapter name used in chat info and history.
const Platform = "web"

// DefaultChatID is used when a payload carries no session.
const DefaultChatID = "web_default"

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Message is the payload a web client sends.
type Message struct {
	Content string `json:"content,omitempty"`
	Text    string `json:"text,omitempty"`
	Nama    string `json:"nama,omitempty"`
	Session string `json:"session,omitempty"`
	Photo   string `json:"photo,omitempty"`
}

// Pusher delivers a reply to the sockets joined to chatID and reports how
// many received it.
type Pusher interface {
	PushToChat(chatID string, resp domain.Response) int
}

// Channel implements domain.Channel for the web chat.
type Channel struct {
	log *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	pusher  Pusher
}

// New creates a web channel. Replies are dropped until a Pusher is attached.
func New(log *logging.Logger) *Channel {
	return &Channel{log: log.Sub("web")}
}

// Attach sets where replies are pushed.
func (c *Channel) Attach(p Pusher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pusher = p
}

func (c *Channel) ID() string { return Platform }

func (c *Channel) Start(ctx context.Context) error { return nil }

func (c *Channel) Stop(ctx context.Context) error { return nil }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Receive normalizes m and hands it to the registered handler. It returns
// the normalized message.
func (c *Channel) Receive(m Message) domain.InboundMessage {
	msg := FormatMessage(m)

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	} else {
		c.log.Warn().Str("chatId", msg.ChatID).Msg("web message dropped, no handler")
	}
	return msg
}

// Send pushes resp to the sockets joined to chatID.
func (c *Channel) Send(ctx context.Context, chatID string, resp domain.Response) error {
	c.mu.RLock()
	p := c.pusher
	c.mu.RUnlock()
	if p == nil {
		return nil
	}
	n := p.PushToChat(chatID, resp)
	c.log.Debug().Str("chatId", chatID).Int("clients", n).Str("type", resp.Type).Msg("web reply pushed")
	return nil
}

// SendMedia pushes a media reply; the browser renders it from the URL.
func (c *Channel) SendMedia(ctx context.Context, chatID string, resp domain.Response) error {
	return c.Send(ctx, chatID, resp)
}

// Roster reports the single web user of a chat.
func (c *Channel) Roster(ctx context.Context, chatID string) ([]domain.Member, error) {
	return []domain.Member{{ID: "web_user", Name: "Web User", IsAdmin: false}}, nil
}

// RemoveParticipant is not available on the web chat.
func (c *Channel) RemoveParticipant(ctx context.Context, chatID, userID string) (domain.ParticipantResult, error) {
	return domain.ParticipantResult{
		Success: false,
		Error:   "Group operations not supported in web chat",
	}, nil
}

// FormatMessage converts a web chat payload into an inbound message.
func FormatMessage(m Message) domain.InboundMessage {
	text := m.Content
	if text == "" {
		text = m.Text
	}
	chatID := m.Session
	if chatID == "" {
		chatID = DefaultChatID
	}
	sender := domain.Sender{ID: "web_user", Name: "Web User"}
	if m.Nama != "" {
		sender.ID, sender.Name = m.Nama, m.Nama
	}

	attachments := []domain.Attachment{}
	if m.Photo != "" {
		attachments = append(attachments, domain.Attachment{URL: m.Photo, Type: "image"})
	}

	return domain.InboundMessage{
		ID:          uuid.New().String(),
		Platform:    Platform,
		ChatID:      chatID,
		Channel:     domain.ChatTypeWeb,
		Text:        text,
		Timestamp:   time.Now(),
		Sender:      sender,
		Mentions:    extractMentions(m.Content),
		Attachments: attachments,
	}
}

func extractMentions(text string) []string {
	mentions := []string{}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		mentions = append(mentions, m[1])
	}
	return mentions
}
