// Package bot dispatches normalized messages to plugins: a command stage,
// then keyword intents, then an AI fallback. It also owns the tool table
// built from enabled plugins.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bellabot/bella/internal/config"
	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/hooks"
	"github.com/bellabot/bella/internal/llm"
	"github.com/bellabot/bella/internal/logging"
	"github.com/bellabot/bella/internal/plugin"
)

// ErrToolNotFound is returned by CallTool for unknown tool names.
var ErrToolNotFound = errors.New("tool not found")

// Fixed replies.
const (
	InitFailureReply = "Maaf, terjadi error saat memproses pesan 😓"
	EmptyAnswerReply = "Maaf, Bella tidak bisa menjawab."
)

// Config configures a Bot.
type Config struct {
	Name        string
	Creator     string
	Prefix      string
	Persona     string
	MaxTokens   int
	Temperature *float64
}

// ConfigFrom extracts the dispatcher settings from the application config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Name:        cfg.Bot.Name,
		Creator:     cfg.Bot.Creator,
		Prefix:      cfg.Bot.Prefix,
		Persona:     cfg.Bot.Persona,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
	}
}

// Bot routes messages to plugin commands, intents and the AI fallback.
type Bot struct {
	cfg   Config
	reg   *plugin.Registry
	tools *Tools
	ai    llm.Client
	hooks *hooks.Manager
	log   *logging.Logger

	initMu      sync.Mutex
	initialized bool
}

// Option customizes a Bot.
type Option func(*Bot)

// WithHooks emits plugin and tool events to hm.
func WithHooks(hm *hooks.Manager) Option {
	return func(b *Bot) { b.hooks = hm }
}

// New creates a bot over reg. ai may be nil, in which case the fallback
// stage always apologizes.
func New(cfg Config, reg *plugin.Registry, ai llm.Client, log *logging.Logger, opts ...Option) *Bot {
	if cfg.Name == "" {
		cfg.Name = "Bella"
	}
	if cfg.Creator == "" {
		cfg.Creator = "Tomii"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/"
	}
	b := &Bot{
		cfg:   cfg,
		reg:   reg,
		tools: NewTools(),
		ai:    ai,
		log:   log.Sub("bot"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the plugin registry the bot dispatches to.
func (b *Bot) Registry() *plugin.Registry { return b.reg }

// Tools returns the tool table.
func (b *Bot) Tools() *Tools { return b.tools }

// Prefix returns the command prefix.
func (b *Bot) Prefix() string { return b.cfg.Prefix }

// Initialize scans the plugin directory, loads every enabled plugin and
// registers its tools. Plugins that fail to load are skipped.
func (b *Bot) Initialize(ctx context.Context) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()
	return b.initLocked(ctx)
}

func (b *Bot) initLocked(ctx context.Context) error {
	records, err := b.reg.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan plugins: %w", err)
	}

	loaded := 0
	for _, rec := range records {
		if !rec.Manifest.Enabled {
			continue
		}
		if err := b.reg.Load(ctx, rec); err != nil {
			continue
		}
		if cur, ok := b.reg.Get(rec.Manifest.ID); ok {
			b.tools.RegisterPlugin(cur)
		}
		loaded++
	}

	b.initialized = true
	b.log.Info().
		Int("scanned", len(records)).
		Int("loaded", loaded).
		Int("tools", b.tools.Len()).
		Msg("bot initialized")
	return nil
}

func (b *Bot) ensureInitialized(ctx context.Context) error {
	b.initMu.Lock()
	defer b.initMu.Unlock()
	if b.initialized {
		return nil
	}
	return b.initLocked(ctx)
}

// NewContext builds the per-message context handed to plugins, filling
// defaults for anything the adapter left empty.
func (b *Bot) NewContext(msg domain.InboundMessage, ch domain.Channel) *domain.MessageContext {
	if msg.Platform == "" {
		if ch != nil {
			msg.Platform = ch.ID()
		} else {
			msg.Platform = "web"
		}
	}
	if msg.ChatID == "" {
		msg.ChatID = "default"
	}
	if msg.Channel == "" {
		msg.Channel = domain.ChatTypeDefault
	}
	if msg.Sender.ID == "" {
		msg.Sender.ID = "anonymous"
	}
	if msg.Sender.Name == "" {
		msg.Sender.Name = "User"
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Mentions == nil {
		msg.Mentions = []string{}
	}
	if msg.Attachments == nil {
		msg.Attachments = []domain.Attachment{}
	}

	var args []string
	if fields := strings.Fields(msg.Text); len(fields) > 1 {
		args = fields[1:]
	} else {
		args = []string{}
	}

	mc := domain.NewMessageContext(msg, args, ch)
	mc.OnSendError(func(err error) {
		b.log.Warn().Err(err).
			Str("platform", msg.Platform).
			Str("chatId", msg.ChatID).
			Msg("failed to deliver reply")
	})
	return mc
}

// ProcessMessage runs the dispatch pipeline for one message and returns the
// responses produced, in order. It only fails when ctx is cancelled before
// the fallback stage replies; in that case no reply is produced.
func (b *Bot) ProcessMessage(ctx context.Context, msg domain.InboundMessage, ch domain.Channel) ([]domain.Response, error) {
	if err := b.ensureInitialized(ctx); err != nil {
		b.log.Error().Err(err).Msg("initialization failed")
		mc := b.NewContext(msg, ch)
		mc.ReplyAs(ctx, InitFailureReply, domain.ResponseError)
		return mc.Responses(), nil
	}

	mc := b.NewContext(msg, ch)

	if strings.HasPrefix(mc.Text, b.cfg.Prefix) {
		if b.handleCommand(ctx, mc) {
			return mc.Responses(), nil
		}
	} else if b.handleIntent(ctx, mc) {
		return mc.Responses(), nil
	}

	if err := b.handleFallback(ctx, mc); err != nil {
		return mc.Responses(), err
	}
	return mc.Responses(), nil
}

func (b *Bot) handleCommand(ctx context.Context, mc *domain.MessageContext) bool {
	fields := strings.Fields(mc.Text)
	if len(fields) == 0 {
		return false
	}
	command := strings.TrimPrefix(fields[0], b.cfg.Prefix)
	if command == "" {
		return false
	}

	for _, rec := range b.reg.Enabled() {
		fn, ok := rec.Module.Command(command)
		if !ok {
			continue
		}
		b.log.Info().Str("command", command).Str("plugin", rec.Manifest.ID).Msg("executing command")
		if err := runCommand(ctx, fn, mc); err != nil {
			b.log.Error().Err(err).Str("command", command).Str("plugin", rec.Manifest.ID).Msg("command failed")
			mc.ReplyAs(ctx, "❌ Error executing command: "+err.Error(), domain.ResponseError)
		}
		return true
	}
	return false
}

func (b *Bot) handleIntent(ctx context.Context, mc *domain.MessageContext) bool {
	for _, rec := range b.reg.Enabled() {
		for _, pattern := range rec.Manifest.Triggers.Patterns {
			if !matchesPattern(mc.Text, pattern) {
				continue
			}
			name, fn, ok := rec.Module.FirstCommand()
			if !ok {
				continue
			}
			b.log.Info().Str("plugin", rec.Manifest.ID).Str("command", name).Msg("intent matched")
			if err := runCommand(ctx, fn, mc); err != nil {
				b.log.Error().Err(err).Str("plugin", rec.Manifest.ID).Msg("intent handler failed")
				return false
			}
			return true
		}
	}
	return false
}

// runCommand calls fn and turns a panic into an error.
func runCommand(ctx context.Context, fn plugin.CommandFunc, mc *domain.MessageContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, mc)
}

func runTool(ctx context.Context, fn plugin.ToolFunc, mc *domain.MessageContext, input map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, mc, input)
}

// matchesPattern reports whether text contains any whitespace-separated
// keyword of pattern, ignoring case and an "@" in the keyword.
func matchesPattern(text, pattern string) bool {
	text = strings.ToLower(text)
	for _, kw := range strings.Fields(strings.ToLower(pattern)) {
		kw = strings.Replace(kw, "@", "", 1)
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func (b *Bot) handleFallback(ctx context.Context, mc *domain.MessageContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := mc.Chat.Sender.Name
	answer, err := b.complete(ctx, mc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			b.log.Warn().Err(ctxErr).Msg("fallback cancelled")
			return ctxErr
		}
		b.log.Error().Err(err).Msg("AI fallback failed")
		mc.Reply(ctx, fmt.Sprintf("Maaf %s, saya sedang mengalami gangguan. Mohon coba lagi nanti.", name))
		return nil
	}

	if strings.TrimSpace(answer) == "" {
		answer = EmptyAnswerReply
	}
	mc.Reply(ctx, answer)
	return nil
}

func (b *Bot) complete(ctx context.Context, mc *domain.MessageContext) (string, error) {
	if b.ai == nil {
		return "", llm.ErrNoProvider
	}

	system := BuildSystemPrompt(PromptConfig{
		BotName:  b.cfg.Name,
		Creator:  b.cfg.Creator,
		UserName: mc.Chat.Sender.Name,
		Persona:  b.cfg.Persona,
		Platform: mc.Chat.Platform,
		ChatType: string(mc.Chat.Channel),
		Tools:    b.tools.List(),
	})

	resp, err := b.ai.Complete(ctx, llm.CompletionRequest{
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: UserPrompt(mc.Text)}},
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	b.log.Debug().
		Str("model", resp.Model).
		Int("inputTokens", resp.Usage.InputTokens).
		Int("outputTokens", resp.Usage.OutputTokens).
		Dur("duration", resp.Duration).
		Msg("fallback answered")
	return resp.Content, nil
}

// CallTool invokes a registered tool. Unlike the dispatch stages, errors
// from the tool are returned unchanged. mc may be nil.
func (b *Bot) CallTool(ctx context.Context, name string, input map[string]any, mc *domain.MessageContext) (any, error) {
	tool, owner, ok := b.tools.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if tool.Handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", name)
	}
	if mc == nil {
		mc = b.NewContext(domain.InboundMessage{}, nil)
	}
	if input == nil {
		input = map[string]any{}
	}

	b.log.Info().Str("tool", name).Str("plugin", owner).Msg("calling tool")
	out, err := runTool(ctx, tool.Handler, mc, input)

	data := map[string]any{"tool": name, "plugin": owner}
	if err != nil {
		data["error"] = err.Error()
		b.log.Error().Err(err).Str("tool", name).Msg("tool failed")
	}
	b.hooks.Emit(ctx, hooks.EventToolCalled, data)
	return out, err
}

// EnablePlugin loads a plugin and registers its tools. A plugin that is not
// registered yet is looked up on disk.
func (b *Bot) EnablePlugin(ctx context.Context, id string) error {
	rec, ok := b.reg.Get(id)
	if !ok {
		rec, ok = b.reg.FindByID(ctx, id)
		if !ok {
			return fmt.Errorf("%w: %s", plugin.ErrPluginNotFound, id)
		}
	}

	rec.Manifest.Enabled = true
	if err := b.reg.Load(ctx, rec); err != nil {
		return err
	}

	cur, _ := b.reg.Get(id)
	b.tools.RemovePlugin(id)
	n := b.tools.RegisterPlugin(cur)

	b.log.Info().Str("id", id).Int("tools", n).Msg("plugin enabled")
	b.hooks.Emit(ctx, hooks.EventPluginEnabled, map[string]any{"id": id})
	return nil
}

// DisablePlugin marks a plugin disabled and drops its tools. Disabling an
// already disabled plugin succeeds.
func (b *Bot) DisablePlugin(ctx context.Context, id string) error {
	if err := b.reg.Disable(id); err != nil {
		return err
	}
	n := b.tools.RemovePlugin(id)

	b.log.Info().Str("id", id).Int("tools", n).Msg("plugin disabled")
	b.hooks.Emit(ctx, hooks.EventPluginDisabled, map[string]any{"id": id})
	return nil
}

// ReloadPlugin reloads a plugin's code from disk and refreshes its tools.
func (b *Bot) ReloadPlugin(ctx context.Context, id string) error {
	rec, err := b.reg.Reload(ctx, id)
	if err != nil {
		return err
	}
	b.PluginReloaded(ctx, rec)
	return nil
}

// PluginReloaded refreshes the tool table after rec was reloaded. It is the
// watcher's reload callback.
func (b *Bot) PluginReloaded(ctx context.Context, rec plugin.Record) {
	b.tools.RemovePlugin(rec.Manifest.ID)
	if rec.Runnable() {
		b.tools.RegisterPlugin(rec)
	}
	b.hooks.Emit(ctx, hooks.EventPluginReloaded, map[string]any{"id": rec.Manifest.ID})
}

// AvailableCommands lists command names across enabled plugins in dispatch
// order.
func (b *Bot) AvailableCommands() []string {
	var out []string
	for _, rec := range b.reg.Enabled() {
		out = append(out, rec.Module.Commands()...)
	}
	return out
}

// AvailableTools lists registered tools sorted by name.
func (b *Bot) AvailableTools() []ToolInfo {
	return b.tools.List()
}
