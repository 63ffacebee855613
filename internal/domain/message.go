package domain

import "time"

// ChatType classifies the conversation context a message arrived in.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
	ChatTypeWeb     ChatType = "web"
	ChatTypeDefault ChatType = "default"
)

// Attachment represents a file or media attachment on a message.
type Attachment struct {
	ID       string `json:"id,omitempty"` // platform media id, when the platform has one
	URL      string `json:"url,omitempty"`
	Type     string `json:"type,omitempty"` // "image" | "video" | "document" | ...
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Sender identifies who wrote a message.
type Sender struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

// QuotedMessage is the message an inbound message replies to.
type QuotedMessage struct {
	ID       string `json:"id,omitempty"`
	Text     string `json:"text"`
	SenderID string `json:"senderId,omitempty"`
}

// InboundMessage is the normalized shape every transport adapter produces.
type InboundMessage struct {
	ID          string         `json:"id,omitempty"`
	Platform    string         `json:"platform,omitempty"` // adapter name, e.g. "web", "whatsapp"
	ChatID      string         `json:"chatId"`
	ChatName    string         `json:"chatName,omitempty"`
	Channel     ChatType       `json:"channel"`
	Text        string         `json:"text"`
	Timestamp   time.Time      `json:"timestamp"`
	Sender      Sender         `json:"sender"`
	Mentions    []string       `json:"mentions,omitempty"`
	Quoted      *QuotedMessage `json:"quotedMessage,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

// Response types produced by the dispatcher.
const (
	ResponseText  = "text"
	ResponseError = "error"
	ResponseMedia = "media"
)

// Response is one reply produced while dispatching a message. Timestamp is
// in Unix milliseconds.
type Response struct {
	Text      string `json:"text,omitempty"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`

	// Media fields, set when Type is "media".
	URL      string `json:"url,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Media describes an outbound file.
type Media struct {
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"fileName,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}
