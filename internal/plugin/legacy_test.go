package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/bellabot/bella/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCommands(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "regex alternation",
			src:  "handler.command = /^(tt|tiktok)$/i\n",
			want: []string{"tt", "tiktok"},
		},
		{
			name: "regex single",
			src:  "handler.command = /^ping$/i",
			want: []string{"ping"},
		},
		{
			name: "array literal",
			src:  `handler.command = ["kick", 'tendang']`,
			want: []string{"kick", "tendang"},
		},
		{
			name: "help fallback",
			src:  `handler.help = ["kick <user>", "ping"]`,
			want: []string{"kick", "ping"},
		},
		{
			name: "command wins over help",
			src:  "handler.help = [\"menu\"]\nhandler.command = /^(sticker|s)$/i",
			want: []string{"sticker", "s"},
		},
		{
			name: "angle brackets stripped",
			src:  `handler.help = ["<ban> @user"]`,
			want: []string{"ban"},
		},
		{
			name: "empty tokens dropped",
			src:  `handler.command = ["a", "", "b"]`,
			want: []string{"a", "b"},
		},
		{
			name: "unrecognized declaration",
			src:  "handler.command = commands",
			want: nil,
		},
		{
			name: "nothing declared",
			src:  "local x = 1",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractCommands(tt.src)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLegacyManifest(t *testing.T) {
	src := "handler.command = /^(tt|tiktok)$/i\nfunction handler(m, opts) end\n"
	m := LegacyManifest("/plugins/downloader/download-tiktok.lua", src)

	assert.Equal(t, "download-tiktok", m.ID)
	assert.Equal(t, "Tiktok", m.Name)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, "Legacy Plugin", m.Author)
	assert.Equal(t, "Download content from various platforms", m.Description)
	assert.Equal(t, []string{"downloader"}, m.Tags)
	assert.Equal(t, []string{"tt", "tiktok"}, m.Capabilities.Commands)
	assert.Equal(t, []string{"tt", "tiktok"}, m.Triggers.Commands)
	assert.Equal(t, []string{"tt", "tiktok"}, m.IntentExamples)
	assert.Equal(t, MaturityStable, m.Maturity)
	assert.True(t, m.Enabled)
}

func TestLegacyNaming(t *testing.T) {
	tests := []struct {
		file, folder     string
		wantID, wantName string
		wantDescription  string
	}{
		{"group-kick", "group", "group-kick", "Kick", "Group management and moderation tools"},
		{"anime_search", "anime", "anime_search", "Search", "Anime related content and features"},
		{"cek cuaca", "misc", "cek_cuaca", "Cek Cuaca", "misc plugin - cek cuaca"},
		{"Info.Bot", "info", "Info_Bot", ".Bot", "Information and data retrieval"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			m := LegacyManifest("/p/"+tt.folder+"/"+tt.file+".lua", "")
			assert.Equal(t, tt.wantID, m.ID)
			assert.Equal(t, tt.wantName, m.Name)
			assert.Equal(t, tt.wantDescription, m.Description)
		})
	}
}

func TestDeclaration(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"single lines", "function handler(m, opts)\nend\nhandler.command = /^(a|b)$/i\n  handler.help = [\"a\"]\nreturn handler\n"},
		{"multi-line array", "function handler(m, opts)\nend\nhandler.help = [\n  \"a <x>\",\n  \"b\"\n]\nhandler.command = [\"a\",\n \"b\"];\nreturn handler\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Declaration.ReplaceAllString(tt.src, "")
			assert.NotContains(t, out, "handler.command")
			assert.NotContains(t, out, "handler.help")
			assert.NotContains(t, out, `"b"`)
			assert.NotContains(t, out, "]")
			assert.Contains(t, out, "function handler(m, opts)\nend\n")
			assert.Contains(t, out, "return handler")
		})
	}
}

type removerChannel struct {
	removed []string
}

func (c *removerChannel) ID() string                                          { return "remover" }
func (c *removerChannel) Start(context.Context) error                         { return nil }
func (c *removerChannel) Stop(context.Context) error                          { return nil }
func (c *removerChannel) OnMessage(func(domain.InboundMessage))               {}
func (c *removerChannel) Send(context.Context, string, domain.Response) error { return nil }

func (c *removerChannel) RemoveParticipant(_ context.Context, _, userID string) (domain.ParticipantResult, error) {
	c.removed = append(c.removed, userID)
	return domain.ParticipantResult{Success: true}, nil
}

func legacyContext(ch domain.Channel) *domain.MessageContext {
	return domain.NewMessageContext(domain.InboundMessage{
		Platform: "web",
		Text:     ".kick alice bob",
		Sender:   domain.Sender{ID: "owner", Name: "Owner", IsAdmin: true},
	}, []string{"alice", "bob"}, ch)
}

func TestLegacyModule_ConvertsArguments(t *testing.T) {
	var gotM LegacyMessage
	var gotOpts LegacyOptions
	mod := LegacyModule([]string{"kick", "tendang"}, func(_ context.Context, m LegacyMessage, opts LegacyOptions) error {
		gotM, gotOpts = m, opts
		return nil
	})

	assert.Equal(t, []string{"kick", "tendang"}, mod.Commands())

	fn, ok := mod.Command("tendang")
	require.True(t, ok)
	require.NoError(t, fn(context.Background(), legacyContext(nil)))

	assert.Equal(t, "default", gotM.Chat)
	assert.Equal(t, "owner", gotM.Sender)
	assert.Equal(t, []string{}, gotM.MentionedJid)
	assert.Equal(t, "alice bob", gotOpts.Text)
	assert.Equal(t, ".", gotOpts.UsedPrefix)
	assert.Equal(t, "tendang", gotOpts.Command)
	assert.True(t, gotOpts.IsOwner)
	assert.True(t, gotOpts.IsAdmin)
	assert.False(t, gotOpts.IsPrems)
	assert.Equal(t, "bot@whatsapp.net", gotOpts.Conn.UserJID)
}

func TestLegacyModule_ConnProxiesToContext(t *testing.T) {
	ch := &removerChannel{}
	mc := legacyContext(ch)
	mod := LegacyModule([]string{"kick"}, func(_ context.Context, m LegacyMessage, opts LegacyOptions) error {
		opts.Conn.Reply(m.Chat, "kicking")
		opts.Conn.SendFile(m.Chat, "https://x/y.png", "y.png", "")
		opts.Conn.SendFile(m.Chat, "https://x/z.png", "z.png", "look")
		return opts.Conn.GroupParticipantsUpdate(m.Chat, opts.Args, "remove")
	})

	fn, _ := mod.Command("kick")
	require.NoError(t, fn(context.Background(), mc))

	var texts []string
	for _, r := range mc.Responses() {
		texts = append(texts, r.Text)
	}
	assert.Equal(t, []string{"kicking", "📁 File: y.png", "look"}, texts)
	assert.Equal(t, []string{"alice", "bob"}, ch.removed)
}

func TestLegacyModule_HandlerErrorBecomesReply(t *testing.T) {
	mod := LegacyModule([]string{"tt"}, func(context.Context, LegacyMessage, LegacyOptions) error {
		return errors.New("video not found")
	})

	mc := legacyContext(nil)
	fn, _ := mod.Command("tt")
	require.NoError(t, fn(context.Background(), mc), "legacy errors never reach the caller")

	resp := mc.Responses()
	require.Len(t, resp, 1)
	assert.Equal(t, "❌ Error executing tt: video not found", resp[0].Text)
}
