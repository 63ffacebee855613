package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/bellabot/bella/internal/domain"
	"github.com/tidwall/gjson"
)

const maxWebhookBody = 4 << 20

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// ServeHTTP handles the Cloud API webhook: GET answers the subscription
// challenge and POST delivers messages.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.verify(w, r)
	case http.MethodPost:
		c.receive(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *Channel) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || c.cfg.VerifyToken == "" ||
		!hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(c.cfg.VerifyToken)) {
		c.log.Warn().Str("mode", q.Get("hub.mode")).Msg("webhook verification rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	c.log.Info().Msg("webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, q.Get("hub.challenge"))
}

func (c *Channel) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if c.cfg.AppSecret != "" && !validSignature(c.cfg.AppSecret, r.Header.Get("X-Hub-Signature-256"), body) {
		c.log.Warn().Msg("webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	if !gjson.ValidBytes(body) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	msgs := c.ParseWebhook(body)

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	for _, msg := range msgs {
		if handler == nil {
			c.log.Warn().Str("chatId", msg.ChatID).Msg("whatsapp message dropped, no handler")
			continue
		}
		handler(msg)
	}
	w.WriteHeader(http.StatusOK)
}

func validSignature(secret, header string, body []byte) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// ParseWebhook extracts the user messages of a webhook notification. Status
// updates and unsupported message types are skipped.
func (c *Channel) ParseWebhook(body []byte) []domain.InboundMessage {
	var out []domain.InboundMessage

	gjson.GetBytes(body, "entry.#.changes.#.value").ForEach(func(_, changes gjson.Result) bool {
		changes.ForEach(func(_, value gjson.Result) bool {
			names := map[string]string{}
			value.Get("contacts").ForEach(func(_, contact gjson.Result) bool {
				names[contact.Get("wa_id").String()] = contact.Get("profile.name").String()
				return true
			})
			if n := value.Get("statuses.#").Int(); n > 0 {
				c.log.Debug().Int64("count", n).Msg("whatsapp status updates ignored")
			}
			value.Get("messages").ForEach(func(_, m gjson.Result) bool {
				if msg, ok := c.parseMessage(m, names); ok {
					out = append(out, msg)
				}
				return true
			})
			return true
		})
		return true
	})
	return out
}

func (c *Channel) parseMessage(m gjson.Result, names map[string]string) (domain.InboundMessage, bool) {
	from := m.Get("from").String()
	kind := m.Get("type").String()

	text := ""
	attachments := []domain.Attachment{}
	switch kind {
	case "text":
		text = m.Get("text.body").String()
	case "image", "video", "audio", "document", "sticker":
		media := m.Get(kind)
		text = media.Get("caption").String()
		attachments = append(attachments, domain.Attachment{
			ID:       media.Get("id").String(),
			Type:     kind,
			MimeType: media.Get("mime_type").String(),
			FileName: media.Get("filename").String(),
		})
	case "button":
		text = m.Get("button.text").String()
	case "interactive":
		text = m.Get("interactive.button_reply.title").String()
		if text == "" {
			text = m.Get("interactive.list_reply.title").String()
		}
	default:
		c.log.Debug().Str("type", kind).Str("from", from).Msg("unsupported whatsapp message type")
		return domain.InboundMessage{}, false
	}
	if from == "" {
		return domain.InboundMessage{}, false
	}

	chatID, chatType := from, domain.ChatTypePrivate
	if g := m.Get("group_id").String(); g != "" {
		chatID, chatType = g, domain.ChatTypeGroup
	}

	ts := time.Now()
	if sec := m.Get("timestamp").Int(); sec > 0 {
		ts = time.Unix(sec, 0)
	}

	name := names[from]
	if name == "" {
		name = from
	}

	mentions := []string{}
	for _, sub := range mentionPattern.FindAllStringSubmatch(text, -1) {
		mentions = append(mentions, sub[1])
	}

	msg := domain.InboundMessage{
		ID:          m.Get("id").String(),
		Platform:    Platform,
		ChatID:      chatID,
		Channel:     chatType,
		Text:        text,
		Timestamp:   ts,
		Sender:      domain.Sender{ID: from, Name: name, IsAdmin: c.isAdmin(from)},
		Mentions:    mentions,
		Attachments: attachments,
	}
	if chatType == domain.ChatTypePrivate {
		msg.ChatName = name
	}
	if q := m.Get("context"); q.Exists() {
		msg.Quoted = &domain.QuotedMessage{
			ID:       q.Get("id").String(),
			SenderID: q.Get("from").String(),
		}
	}
	return msg, true
}
