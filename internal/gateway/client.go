package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
	"github.com/google/uuid"
)

// Conn is the socket a Client talks through. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Client is one connected web chat socket.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Name        string
	Socket      Conn
	ConnectedAt time.Time

	mu      sync.Mutex
	closed  bool
	session string
}

// NewClient creates a Client that joined session as name.
func NewClient(conn Conn, info ClientInfo, name, session string) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		Name:        name,
		Socket:      conn,
		ConnectedAt: time.Now(),
		session:     session,
	}
}

// Session returns the chat the client is joined to.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Join moves the client to another chat.
func (c *Client) Join(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
}

// Send writes a frame to the socket. Safe for concurrent use.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.Socket.WriteJSON(frame)
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for the given request ID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request ID.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame from the socket.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the socket once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.Socket == nil {
		return nil
	}
	return c.Socket.Close()
}

// ChatReply is the payload of a chat.reply event.
type ChatReply struct {
	ChatID   string          `json:"chatId"`
	Response domain.Response `json:"response"`
}

// ClientRegistry tracks connected sockets. It is the web channel's Pusher.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	seq     atomic.Int64
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("name", c.Name).Str("session", c.Session()).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Get returns a client by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// PushToChat sends resp as a chat.reply event to every client joined to
// chatID and returns how many got it.
func (r *ClientRegistry) PushToChat(chatID string, resp domain.Response) int {
	seq := r.seq.Add(1)
	payload := ChatReply{ChatID: chatID, Response: resp}

	r.mu.RLock()
	var targets []*Client
	for _, c := range r.clients {
		if c.Session() == chatID {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.SendEvent(EventChatReply, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Msg("push to client failed")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes and forgets every client.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
