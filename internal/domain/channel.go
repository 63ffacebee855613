package domain

import "context"

// ChannelStatus reports the runtime state of a channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is the interface that all transport adapters must satisfy.
type Channel interface {
	// ID returns the adapter name (e.g., "web", "whatsapp", "irc").
	ID() string

	// Start connects the channel and begins listening for messages.
	Start(ctx context.Context) error

	// Stop gracefully disconnects the channel.
	Stop(ctx context.Context) error

	// Send delivers one response to a chat.
	Send(ctx context.Context, chatID string, resp Response) error

	// OnMessage registers a handler for inbound messages.
	OnMessage(handler func(msg InboundMessage))
}

// MediaSender is implemented by channels that can deliver files natively.
type MediaSender interface {
	SendMedia(ctx context.Context, chatID string, resp Response) error
}

// Member is one participant of a chat.
type Member struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
}

// ParticipantResult reports the outcome of a group moderation action.
type ParticipantResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ParticipantRemover is implemented by channels with group moderation.
type ParticipantRemover interface {
	RemoveParticipant(ctx context.Context, chatID, userID string) (ParticipantResult, error)
}

// RosterProvider is implemented by channels that can list chat members.
type RosterProvider interface {
	Roster(ctx context.Context, chatID string) ([]Member, error)
}

// StatusReporter is implemented by channels that expose connection state.
type StatusReporter interface {
	Status() ChannelStatus
}
