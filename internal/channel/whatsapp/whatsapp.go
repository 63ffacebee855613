// Package whatsapp implements the WhatsApp Cloud API transport: inbound
// messages arrive on a webhook, replies go out through the Graph API.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/bellabot/bella/internal/config"
	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Platform is the adapter name used in chat info and history.
const Platform = "whatsapp"

const defaultAPIBase = "https://graph.facebook.com/v19.0"

// APIError is an error returned by the Graph API.
type APIError struct {
	Status  int
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api: %s (status %d, code %d)", e.Message, e.Status, e.Code)
}

// Option configures a Channel.
type Option func(*Channel)

// WithHTTPClient replaces the retrying HTTP client.
func WithHTTPClient(c *retryablehttp.Client) Option {
	return func(ch *Channel) { ch.http = c }
}

// Channel implements domain.Channel for the WhatsApp Cloud API.
type Channel struct {
	cfg    config.WhatsAppConfig
	log    *logging.Logger
	http   *retryablehttp.Client
	admins map[string]struct{}

	mu        sync.RWMutex
	handler   func(msg domain.InboundMessage)
	running   bool
	connected bool
	lastErr   string
	phone     string
}

// New creates a WhatsApp channel from configuration.
func New(cfg config.WhatsAppConfig, log *logging.Logger, opts ...Option) *Channel {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")

	c := &Channel{
		cfg:    cfg,
		log:    log.Sub("whatsapp"),
		admins: make(map[string]struct{}, len(cfg.Admins)),
	}
	for _, a := range cfg.Admins {
		c.admins[a] = struct{}{}
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 5 * time.Second
	hc.HTTPClient.Timeout = 30 * time.Second
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.http = hc

	for _, opt := range opts {
		opt(c)
	}
	c.http.Logger = leveledLogger{c.log}
	return c
}

func (c *Channel) ID() string { return Platform }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status reports whether the phone number was reachable and the last error.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: Platform,
		Connected: c.connected,
		Running:   c.running,
		LastError: c.lastErr,
	}
}

// PhoneNumber returns the display number learned at Start.
func (c *Channel) PhoneNumber() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phone
}

// Start checks the access token against the configured phone number. It
// does not block; inbound traffic arrives through the webhook.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	body, err := c.call(ctx, http.MethodGet, "/"+c.cfg.PhoneNumberID+"?fields=display_phone_number,verified_name", nil)
	if err != nil {
		c.setResult(false, err)
		return fmt.Errorf("whatsapp start: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.lastErr = ""
	c.phone = gjson.GetBytes(body, "display_phone_number").String()
	c.mu.Unlock()

	c.log.Info().
		Str("phone", c.PhoneNumber()).
		Str("name", gjson.GetBytes(body, "verified_name").String()).
		Msg("whatsapp cloud api ready")
	return nil
}

// Stop marks the channel as stopped.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.connected = false
	return nil
}

// Send delivers a text reply to a WhatsApp user.
func (c *Channel) Send(ctx context.Context, chatID string, resp domain.Response) error {
	if resp.Type == domain.ResponseMedia {
		return c.SendMedia(ctx, chatID, resp)
	}
	payload, err := messagePayload(chatID, "text")
	if err == nil {
		payload, err = sjson.SetBytes(payload, "text.body", resp.Text)
	}
	if err != nil {
		return fmt.Errorf("build text message: %w", err)
	}
	return c.postMessage(ctx, chatID, payload)
}

// SendMedia delivers an image, video, audio or document by link.
func (c *Channel) SendMedia(ctx context.Context, chatID string, resp domain.Response) error {
	kind := mediaKind(resp.MimeType, resp.URL)
	payload, err := messagePayload(chatID, kind)
	if err == nil {
		payload, err = sjson.SetBytes(payload, kind+".link", resp.URL)
	}
	if err == nil && resp.Caption != "" && kind != "audio" {
		payload, err = sjson.SetBytes(payload, kind+".caption", resp.Caption)
	}
	if err == nil && kind == "document" {
		name := resp.FileName
		if name == "" {
			name = path.Base(resp.URL)
		}
		payload, err = sjson.SetBytes(payload, "document.filename", name)
	}
	if err != nil {
		return fmt.Errorf("build media message: %w", err)
	}
	return c.postMessage(ctx, chatID, payload)
}

func messagePayload(to, kind string) ([]byte, error) {
	payload := []byte(`{"messaging_product":"whatsapp","recipient_type":"individual"}`)
	payload, err := sjson.SetBytes(payload, "to", to)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(payload, "type", kind)
}

func (c *Channel) postMessage(ctx context.Context, chatID string, payload []byte) error {
	body, err := c.call(ctx, http.MethodPost, "/"+c.cfg.PhoneNumberID+"/messages", payload)
	if err != nil {
		c.setResult(c.Status().Connected, err)
		return err
	}
	c.log.Debug().
		Str("to", chatID).
		Str("id", gjson.GetBytes(body, "messages.0.id").String()).
		Msg("sent whatsapp message")
	return nil
}

// call performs one Graph API request with retries and returns the body of a
// 2xx response.
func (c *Channel) call(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody any
	if payload != nil {
		reqBody = payload
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.cfg.APIBase+endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("whatsapp %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read whatsapp response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &APIError{
			Status:  resp.StatusCode,
			Code:    gjson.GetBytes(body, "error.code").Int(),
			Message: msg,
		}
	}
	return body, nil
}

func (c *Channel) setResult(connected bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
	if err != nil {
		c.lastErr = err.Error()
	}
}

func (c *Channel) isAdmin(id string) bool {
	_, ok := c.admins[id]
	return ok
}

// mediaKind picks the Cloud API message type for a file.
func mediaKind(mimeType, url string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case mimeType != "":
		return "document"
	}

	ext := strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0]))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
		return "image"
	case ".mp4", ".3gp":
		return "video"
	case ".mp3", ".ogg", ".opus", ".m4a", ".aac", ".amr":
		return "audio"
	}
	return "document"
}

// leveledLogger routes retryablehttp logs into the channel logger.
type leveledLogger struct {
	log *logging.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debug().Fields(kv).Msg(msg) }
