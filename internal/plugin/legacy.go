package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bellabot/bella/internal/domain"
)

// Legacy plugins are plain script files carrying two textual declarations,
// handler.command and handler.help. Only the two literal forms below are
// recognized; anything else yields no commands.
var (
	commandDecl  = regexp.MustCompile(`handler\.command\s*=\s*(.+)`)
	commandRegex = regexp.MustCompile(`/\^(?:\()?([^$)]+)(?:\))?\$`)
	commandArray = regexp.MustCompile(`\[([^\]]+)\]`)
	helpDecl     = regexp.MustCompile(`handler\.help\s*=\s*\[([^\]]+)\]`)
	quoteChars   = regexp.MustCompile(`['"]`)
	angleChars   = regexp.MustCompile(`[<>]`)

	legacyIDChars    = regexp.MustCompile(`(?i)[^a-z0-9_-]`)
	legacyNamePrefix = regexp.MustCompile(`(?i)^(Rpg|Group|Download|Sticker|Store|Tools|Owner|Premium|Info|Game|Fun|Anime|Ai)\s*`)

	// Declaration matches a handler.<field> = ... statement so the runtime
	// can drop it before executing the file. An array value runs through its
	// closing bracket, even across lines.
	Declaration = regexp.MustCompile(`(?m)^[ \t]*handler\.[A-Za-z_]+[ \t]*=[ \t]*(?:\[[^\]]*\][^\n]*|[^\n]*)$`)
)

var legacyDescriptions = map[string]string{
	"downloader": "Download content from various platforms",
	"group":      "Group management and moderation tools",
	"rpg":        "RPG game features and commands",
	"sticker":    "Sticker creation and management",
	"tools":      "Utility tools and helpers",
	"owner":      "Bot owner exclusive commands",
	"premium":    "Premium user features",
	"store":      "Store and payment features",
	"info":       "Information and data retrieval",
	"game":       "Entertainment games and activities",
	"fun":        "Fun and entertainment commands",
	"anime":      "Anime related content and features",
	"ai":         "AI and chatbot features",
}

// ExtractCommands scrapes command names from legacy source text. The
// command declaration wins; help entries are used only when it yields
// nothing.
func ExtractCommands(src string) []string {
	var commands []string

	if m := commandDecl.FindStringSubmatch(src); m != nil {
		value := m[1]
		switch {
		case strings.Contains(value, "/^") && strings.Contains(value, "$/"):
			if rm := commandRegex.FindStringSubmatch(value); rm != nil {
				for _, c := range strings.Split(rm[1], "|") {
					commands = append(commands, strings.TrimSpace(c))
				}
			}
		case strings.Contains(value, "[") && strings.Contains(value, "]"):
			if am := commandArray.FindStringSubmatch(value); am != nil {
				for _, c := range strings.Split(am[1], ",") {
					commands = append(commands, quoteChars.ReplaceAllString(strings.TrimSpace(c), ""))
				}
			}
		}
	}

	if hm := helpDecl.FindStringSubmatch(src); hm != nil && len(commands) == 0 {
		for _, entry := range strings.Split(hm[1], ",") {
			entry = quoteChars.ReplaceAllString(strings.TrimSpace(entry), "")
			first, _, _ := strings.Cut(entry, " ")
			commands = append(commands, angleChars.ReplaceAllString(first, ""))
		}
	}

	out := commands[:0]
	for _, c := range commands {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// LegacyManifest synthesizes a manifest for a legacy file. It is never
// written back to disk.
func LegacyManifest(path, src string) Manifest {
	file := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	folder := filepath.Base(filepath.Dir(path))
	commands := ExtractCommands(src)

	return Manifest{
		ID:          legacyIDChars.ReplaceAllString(file, "_"),
		Name:        legacyName(file),
		Version:     "1.0.0",
		Author:      "Legacy Plugin",
		Description: legacyDescription(file, folder),
		Tags:        []string{folder},
		Permissions: []string{},
		Capabilities: Capabilities{
			Commands: commands,
			Events:   []string{},
			Tools:    []string{},
		},
		Triggers: Triggers{
			Commands: commands,
			Patterns: []string{},
		},
		IntentExamples: commands,
		Maturity:       MaturityStable,
		Enabled:        true,
	}
}

func legacyName(file string) string {
	spaced := strings.NewReplacer("-", " ", "_", " ").Replace(file)
	return legacyNamePrefix.ReplaceAllString(titleWords(spaced), "")
}

// titleWords upper-cases the first ASCII word character of every word.
func titleWords(s string) string {
	b := []byte(s)
	for i := range b {
		if isWordByte(b[i]) && (i == 0 || !isWordByte(b[i-1])) && b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func legacyDescription(file, folder string) string {
	if d, ok := legacyDescriptions[folder]; ok {
		return d
	}
	return fmt.Sprintf("%s plugin - %s", folder, file)
}

// LegacyMessage is the incoming-message shape legacy handlers expect.
type LegacyMessage struct {
	Chat         string
	Sender       string
	Text         string
	Quoted       *domain.QuotedMessage
	MentionedJid []string
	Args         []string
}

// LegacyOptions is the second argument legacy handlers receive.
type LegacyOptions struct {
	Conn       *LegacyConn
	Text       string
	UsedPrefix string
	Command    string
	Args       []string
	IsOwner    bool
	IsAdmin    bool
	IsPrems    bool
}

// LegacyConn is the connection object legacy handlers talk to. Every call
// is proxied onto the modern message context.
type LegacyConn struct {
	UserJID string

	ctx context.Context
	mc  *domain.MessageContext
}

// Reply sends text to the originating chat. The chat argument is ignored.
func (c *LegacyConn) Reply(_ string, text string) {
	c.mc.Reply(c.ctx, text)
}

// SendFile replies with the caption, or a file marker when there is none.
func (c *LegacyConn) SendFile(_ string, _ string, filename, caption string) {
	if caption == "" {
		caption = "📁 File: " + filename
	}
	c.mc.Reply(c.ctx, caption)
}

// GroupParticipantsUpdate supports the "remove" action only.
func (c *LegacyConn) GroupParticipantsUpdate(_ string, participants []string, action string) error {
	if action != "remove" {
		return nil
	}
	for _, p := range participants {
		if _, err := c.mc.RemoveParticipant(c.ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// LegacyHandler is a legacy plugin body.
type LegacyHandler func(ctx context.Context, m LegacyMessage, opts LegacyOptions) error

// LegacyModule wraps a legacy handler into a module exposing one command per
// name. Handler errors become a reply and are never returned.
func LegacyModule(commands []string, h LegacyHandler) *Module {
	mod := NewModule()
	for _, cmd := range commands {
		mod.Handle(cmd, legacyCommand(cmd, h))
	}
	return mod
}

func legacyCommand(cmd string, h LegacyHandler) CommandFunc {
	return func(ctx context.Context, mc *domain.MessageContext) error {
		m, opts := legacyArgs(ctx, mc, cmd)
		if err := h(ctx, m, opts); err != nil {
			mc.Reply(ctx, fmt.Sprintf("❌ Error executing %s: %s", cmd, err.Error()))
		}
		return nil
	}
}

func legacyArgs(ctx context.Context, mc *domain.MessageContext, cmd string) (LegacyMessage, LegacyOptions) {
	chat := mc.Chat.ChatID
	if chat == "" {
		chat = "default"
	}
	sender := mc.Chat.Sender.ID
	if sender == "" {
		sender = "unknown"
	}
	args := mc.Args
	if args == nil {
		args = []string{}
	}
	mentions := mc.Mentions
	if mentions == nil {
		mentions = []string{}
	}

	m := LegacyMessage{
		Chat:         chat,
		Sender:       sender,
		Text:         mc.Text,
		Quoted:       mc.Quoted,
		MentionedJid: mentions,
		Args:         args,
	}
	isAdmin := mc.Chat.Sender.IsAdmin
	opts := LegacyOptions{
		Conn:       &LegacyConn{UserJID: "bot@whatsapp.net", ctx: ctx, mc: mc},
		Text:       strings.Join(args, " "),
		UsedPrefix: ".",
		Command:    cmd,
		Args:       args,
		IsOwner:    isAdmin,
		IsAdmin:    isAdmin,
		IsPrems:    false,
	}
	return m, opts
}
