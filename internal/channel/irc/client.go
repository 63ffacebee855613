// Package irc implements the IRC transport using the girc library.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bellabot/bella/internal/config"
	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
	"github.com/google/uuid"
	"github.com/lrstanley/girc"
)

// Platform is the adapter name used in chat info and history.
const Platform = "irc"

// maxLineLen keeps PRIVMSG lines under the 512 byte protocol limit.
const maxLineLen = 400

var errNotConnected = errors.New("irc: not connected")

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Channel implements domain.Channel for IRC.
type Channel struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string
}

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	if cfg.Port == 0 {
		cfg.Port = 6667
		if cfg.UseTLS {
			cfg.Port = 6697
		}
	}
	return &Channel{
		cfg: cfg,
		log: log.Sub("irc"),
	}
}

func (c *Channel) ID() string { return Platform }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: Platform,
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) gircConfig() girc.Config {
	gc := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.cfg.Port,
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "Bella IRC Bot",
		SSL:     c.cfg.UseTLS,
		Version: "Bella/1.0",
	}
	if c.cfg.UseTLS {
		gc.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	if c.cfg.SASL && c.cfg.Password != "" {
		gc.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	} else if c.cfg.Password != "" {
		gc.ServerPass = c.cfg.Password
	}
	return gc
}

// Start connects to the IRC server and blocks until the connection ends or
// ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	client := girc.New(c.gircConfig())

	c.mu.Lock()
	c.client = client
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()
	c.registerHandlers()

	c.log.Info().
		Str("server", c.cfg.Server).
		Int("port", c.cfg.Port).
		Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", c.cfg.UseTLS).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		c.mu.Lock()
		c.running = false
		if err != nil {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Stop disconnects from the IRC server.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		c.log.Info().Msg("disconnecting from IRC")
		c.client.Quit("Bella shutting down")
	}
	c.running = false
	return nil
}

func (c *Channel) connected() (*girc.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return nil, errNotConnected
	}
	return client, nil
}

// Send delivers a reply to an IRC channel or nick.
func (c *Channel) Send(ctx context.Context, chatID string, resp domain.Response) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	if chatID == "" {
		return fmt.Errorf("irc: no target specified")
	}

	lines := splitMessage(responseText(resp), maxLineLen)
	for _, line := range lines {
		client.Cmd.Message(chatID, line)
	}
	c.log.Debug().Str("to", chatID).Int("lines", len(lines)).Msg("sent IRC message")
	return nil
}

// SendMedia posts the media link with its caption.
func (c *Channel) SendMedia(ctx context.Context, chatID string, resp domain.Response) error {
	return c.Send(ctx, chatID, resp)
}

// Roster lists the nicks in an IRC channel. Operators are admins.
func (c *Channel) Roster(ctx context.Context, chatID string) ([]domain.Member, error) {
	client, err := c.connected()
	if err != nil {
		return nil, err
	}
	members := []domain.Member{}
	ch := client.LookupChannel(chatID)
	if ch == nil {
		return members, nil
	}
	for _, nick := range ch.UserList {
		members = append(members, domain.Member{
			ID:      nick,
			Name:    nick,
			IsAdmin: c.isChannelOp(client, nick, chatID),
		})
	}
	return members, nil
}

// RemoveParticipant kicks userID from an IRC channel. The bot must be an
// operator there.
func (c *Channel) RemoveParticipant(ctx context.Context, chatID, userID string) (domain.ParticipantResult, error) {
	client, err := c.connected()
	if err != nil {
		return domain.ParticipantResult{Success: false, Error: err.Error()}, nil
	}
	if !girc.IsValidChannel(chatID) {
		return domain.ParticipantResult{Success: false, Error: "Not a channel"}, nil
	}
	if !c.isChannelOp(client, client.GetNick(), chatID) {
		return domain.ParticipantResult{Success: false, Error: "Bot is not an operator"}, nil
	}
	client.Cmd.Kick(chatID, userID, "removed by "+c.cfg.Nick)
	return domain.ParticipantResult{Success: true}, nil
}

func (c *Channel) registerHandlers() {
	c.client.Handlers.Add(girc.CONNECTED, c.onConnected)
	c.client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	c.client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")
	for _, ch := range c.cfg.Channels {
		c.log.Info().Str("channel", ch).Msg("joining channel")
		client.Cmd.Join(ch)
	}
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) == 0 || e.Source.Name == client.GetNick() {
		return
	}

	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}
	c.dispatch(client, e.Source.Name, e.Params[0], body)
}

func (c *Channel) isChannelOp(client *girc.Client, nick, channel string) bool {
	user := client.LookupUser(nick)
	if user == nil {
		return false
	}
	perms, ok := user.Perms.Lookup(channel)
	if !ok {
		return false
	}
	return perms.IsAdmin()
}

func (c *Channel) dispatch(client *girc.Client, from, target, body string) {
	nick := client.GetNick()
	msg, ok := c.normalize(nick, from, target, body)
	if !ok {
		return
	}
	if msg.Channel == domain.ChatTypeGroup && !msg.Sender.IsAdmin {
		msg.Sender.IsAdmin = c.isChannelOp(client, from, target)
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// normalize turns one PRIVMSG into an inbound message. Channel messages are
// group chats keyed by channel name; direct messages are private chats keyed
// by the sender's nick.
func (c *Channel) normalize(nick, from, target, body string) (domain.InboundMessage, bool) {
	chatID, chatType := target, domain.ChatTypeGroup
	if !girc.IsValidChannel(target) {
		chatID, chatType = from, domain.ChatTypePrivate
	}

	mentions := []string{}
	for _, m := range mentionPattern.FindAllStringSubmatch(body, -1) {
		mentions = append(mentions, m[1])
	}

	// "bella: hi" and "bella, hi" address the bot directly.
	text := body
	if rest, ok := addressedTo(nick, body); ok {
		text = rest
		mentions = append(mentions, nick)
	} else if nick != "" && strings.Contains(strings.ToLower(body), strings.ToLower(nick)) {
		mentions = append(mentions, nick)
	} else if chatType == domain.ChatTypeGroup && c.cfg.MentionOnly {
		return domain.InboundMessage{}, false
	}

	return domain.InboundMessage{
		ID:        uuid.New().String(),
		Platform:  Platform,
		ChatID:    chatID,
		ChatName:  chatID,
		Channel:   chatType,
		Text:      text,
		Timestamp: time.Now(),
		Sender: domain.Sender{
			ID:      from,
			Name:    from,
			IsAdmin: c.cfg.Owner != "" && strings.EqualFold(from, c.cfg.Owner),
		},
		Mentions: mentions,
	}, true
}

func (c *Channel) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Warn().Msg("disconnected from IRC")
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func addressedTo(nick, body string) (string, bool) {
	if nick == "" || len(body) <= len(nick) || !strings.EqualFold(body[:len(nick)], nick) {
		return "", false
	}
	switch body[len(nick)] {
	case ':', ',':
		return strings.TrimSpace(body[len(nick)+1:]), true
	}
	return "", false
}

// responseText renders a reply as plain IRC text.
func responseText(resp domain.Response) string {
	if resp.Type != domain.ResponseMedia {
		return resp.Text
	}
	if resp.Caption == "" {
		return resp.URL
	}
	return resp.Caption + " " + resp.URL
}

// splitMessage breaks a reply into IRC lines. Every newline starts a new
// line and lines longer than maxLen are cut at maxLen bytes. Blank lines are
// dropped.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		for len(line) > maxLen {
			chunks = append(chunks, line[:maxLen])
			line = line[maxLen:]
		}
		if line != "" {
			chunks = append(chunks, line)
		}
	}
	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}
