// Package routing connects transport channels to the message dispatcher.
package routing

import (
	"context"
	"sync"
	"time"

	"github.com/bellabot/bella/internal/channel"
	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/hooks"
	"github.com/bellabot/bella/internal/logging"
	"github.com/bellabot/bella/internal/store"
)

// Dispatcher processes one inbound message and returns the replies it
// produced. *bot.Bot satisfies it.
type Dispatcher interface {
	ProcessMessage(ctx context.Context, msg domain.InboundMessage, ch domain.Channel) ([]domain.Response, error)
}

// History records the conversation. *store.HistoryStore satisfies it.
type History interface {
	RecordInbound(ctx context.Context, msg domain.InboundMessage) error
	RecordOutbound(ctx context.Context, chat store.Chat, sender string, resp domain.Response) error
}

// Option configures a Router.
type Option func(*Router)

// WithHistory records every inbound message and reply.
func WithHistory(h History) Option {
	return func(r *Router) { r.history = h }
}

// WithHooks emits message_received and message_sending.
func WithHooks(hm *hooks.Manager) Option {
	return func(r *Router) { r.hooks = hm }
}

// WithSenderName sets the sender recorded for replies.
func WithSenderName(name string) Option {
	return func(r *Router) { r.sender = name }
}

// Router routes inbound messages to the dispatcher and records what flows
// through it.
type Router struct {
	channels   *channel.Registry
	dispatcher Dispatcher
	history    History
	hooks      *hooks.Manager
	sender     string
	log        *logging.Logger

	wg sync.WaitGroup
}

// NewRouter creates a message router.
func NewRouter(channels *channel.Registry, d Dispatcher, log *logging.Logger, opts ...Option) *Router {
	r := &Router{
		channels:   channels,
		dispatcher: d,
		sender:     "Bella",
		log:        log.Sub("routing"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleInbound dispatches msg, whose replies are delivered through ch while
// the handlers run, and returns those replies.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage, ch domain.Channel) ([]domain.Response, error) {
	start := time.Now()
	r.log.Info().
		Str("platform", msg.Platform).
		Str("chatId", msg.ChatID).
		Str("sender", msg.Sender.ID).
		Str("chatType", string(msg.Channel)).
		Msg("routing inbound message")

	r.hooks.Emit(ctx, hooks.EventMessageReceived, map[string]any{
		"platform": msg.Platform,
		"chatId":   msg.ChatID,
		"sender":   msg.Sender.ID,
		"text":     msg.Text,
	})
	if r.history != nil {
		if err := r.history.RecordInbound(ctx, msg); err != nil {
			r.log.Warn().Err(err).Str("chatId", msg.ChatID).Msg("failed to record inbound message")
		}
	}

	responses, err := r.dispatcher.ProcessMessage(ctx, msg, ch)
	if err != nil {
		r.log.Error().Err(err).
			Str("platform", msg.Platform).
			Str("chatId", msg.ChatID).
			Msg("dispatch failed")
	}
	r.recordReplies(ctx, msg, responses)

	r.log.Info().
		Str("platform", msg.Platform).
		Str("chatId", msg.ChatID).
		Int("replies", len(responses)).
		Dur("duration", time.Since(start)).
		Msg("message handled")
	return responses, err
}

func (r *Router) recordReplies(ctx context.Context, msg domain.InboundMessage, responses []domain.Response) {
	chat := store.Chat{ID: msg.ChatID, Type: string(msg.Channel), Platform: msg.Platform}
	for _, resp := range responses {
		r.hooks.Emit(ctx, hooks.EventMessageSending, map[string]any{
			"platform": msg.Platform,
			"chatId":   msg.ChatID,
			"type":     resp.Type,
			"text":     resp.Text,
		})
		if r.history == nil {
			continue
		}
		if err := r.history.RecordOutbound(ctx, chat, r.sender, resp); err != nil {
			r.log.Warn().Err(err).Str("chatId", msg.ChatID).Msg("failed to record reply")
		}
	}
}

// Wire registers the router as the message handler of every channel. Each
// message is handled in its own goroutine bound to ctx.
func (r *Router) Wire(ctx context.Context) {
	for _, ch := range r.channels.All() {
		ch.OnMessage(func(msg domain.InboundMessage) {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.HandleInbound(ctx, msg, ch)
			}()
		})
		r.log.Debug().Str("channel", ch.ID()).Msg("wired message handler")
	}
}

// Wait blocks until in-flight messages are handled.
func (r *Router) Wait() {
	r.wg.Wait()
}

// SendTo delivers a text message to a chat on the named platform and records
// it.
func (r *Router) SendTo(ctx context.Context, platform, chatID, text string) error {
	resp := domain.Response{Text: text, Type: domain.ResponseText, Timestamp: time.Now().UnixMilli()}
	if err := r.channels.Send(ctx, platform, chatID, resp); err != nil {
		return err
	}
	r.recordReplies(ctx, domain.InboundMessage{Platform: platform, ChatID: chatID}, []domain.Response{resp})
	return nil
}
