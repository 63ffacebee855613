// Package channel keeps the transport adapters the bot talks through.
package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
)

// Registry manages the running transport adapters, keyed by platform name.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	log      *logging.Logger
}

// NewRegistry creates a channel registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		log:      log.Sub("channels"),
	}
}

// Register adds a channel. A channel with the same ID is replaced.
func (r *Registry) Register(ch domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID()] = ch
	r.log.Info().Str("channel", ch.ID()).Msg("channel registered")
}

// Get returns a channel by ID.
func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// List returns all channel IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns the registered channels ordered by ID.
func (r *Registry) All() []domain.Channel {
	ids := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Channel, 0, len(ids))
	for _, id := range ids {
		if ch, ok := r.channels[id]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// Send delivers resp to chatID on the named platform.
func (r *Registry) Send(ctx context.Context, platform, chatID string, resp domain.Response) error {
	ch, ok := r.Get(platform)
	if !ok {
		return fmt.Errorf("channel %q not registered", platform)
	}
	if resp.Type == domain.ResponseMedia {
		if ms, ok := ch.(domain.MediaSender); ok {
			return ms.SendMedia(ctx, chatID, resp)
		}
	}
	return ch.Send(ctx, chatID, resp)
}

// Status returns the status of all registered channels.
func (r *Registry) Status() []domain.ChannelStatus {
	statuses := []domain.ChannelStatus{}
	for _, ch := range r.All() {
		if sr, ok := ch.(domain.StatusReporter); ok {
			statuses = append(statuses, sr.Status())
			continue
		}
		statuses = append(statuses, domain.ChannelStatus{
			ChannelID: ch.ID(),
			Running:   true,
		})
	}
	return statuses
}

// StartAll starts all registered channels in background goroutines.
// Start may block for the life of the connection (IRC does), so each channel
// gets its own goroutine.
func (r *Registry) StartAll(ctx context.Context) {
	for _, ch := range r.All() {
		r.log.Info().Str("channel", ch.ID()).Msg("starting channel")
		go func(ch domain.Channel) {
			if err := ch.Start(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Str("channel", ch.ID()).Msg("channel exited with error")
			}
		}(ch)
	}
}

// StopAll stops all registered channels.
func (r *Registry) StopAll(ctx context.Context) {
	for _, ch := range r.All() {
		r.log.Info().Str("channel", ch.ID()).Msg("stopping channel")
		if err := ch.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", ch.ID()).Msg("failed to stop channel")
		}
	}
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
