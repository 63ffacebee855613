package gateway

import (
	"errors"
	"sync"
	"testing"

	"github.com/bellabot/bella/internal/domain"
	"github.com/bellabot/bella/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// fakeConn records written frames.
type fakeConn struct {
	mu       sync.Mutex
	frames   []Frame
	writeErr error
	closed   bool
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, v.(Frame))
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, errors.New("not readable") }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) sent() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Frame(nil), f.frames...)
}

func TestClientRegistry_AddGetRemove(t *testing.T) {
	reg := NewClientRegistry(testLog())
	c := NewClient(&fakeConn{}, ClientInfo{ID: "browser"}, "Budi", "room-1")
	reg.Add(c)

	assert.Equal(t, 1, reg.Count())
	got, ok := reg.Get(c.ConnID)
	require.True(t, ok)
	assert.Equal(t, "Budi", got.Name)

	reg.Remove(c.ConnID)
	reg.Remove("nonexistent")
	assert.Equal(t, 0, reg.Count())
	_, ok = reg.Get(c.ConnID)
	assert.False(t, ok)
}

func TestClient_Join(t *testing.T) {
	c := NewClient(&fakeConn{}, ClientInfo{}, "Budi", "room-1")
	assert.Equal(t, "room-1", c.Session())
	c.Join("room-2")
	assert.Equal(t, "room-2", c.Session())
}

func TestClient_SendAfterClose(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient(conn, ClientInfo{}, "", "s")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "closing twice is a no-op")

	assert.True(t, conn.closed)
	assert.ErrorIs(t, c.Respond("1", nil), ErrClientClosed)
}

func TestClientRegistry_PushToChat(t *testing.T) {
	reg := NewClientRegistry(testLog())
	a, b, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	reg.Add(NewClient(a, ClientInfo{}, "A", "room-1"))
	reg.Add(NewClient(b, ClientInfo{}, "B", "room-1"))
	reg.Add(NewClient(other, ClientInfo{}, "C", "room-2"))

	n := reg.PushToChat("room-1", domain.Response{Text: "halo", Type: domain.ResponseText})
	assert.Equal(t, 2, n)
	require.Len(t, a.sent(), 1)
	require.Len(t, b.sent(), 1)
	assert.Empty(t, other.sent())

	f := a.sent()[0]
	assert.Equal(t, EventChatReply, f.Event)
	assert.Equal(t, int64(1), f.Seq)
	assert.JSONEq(t, `{"chatId":"room-1","response":{"text":"halo","type":"text","timestamp":0}}`, string(f.Payload))

	reg.PushToChat("room-2", domain.Response{Text: "x"})
	assert.Equal(t, int64(2), other.sent()[0].Seq, "sequence numbers are shared across chats")
}

func TestClientRegistry_PushSkipsFailedWrites(t *testing.T) {
	reg := NewClientRegistry(testLog())
	reg.Add(NewClient(&fakeConn{writeErr: errors.New("broken pipe")}, ClientInfo{}, "A", "s"))
	reg.Add(NewClient(&fakeConn{}, ClientInfo{}, "B", "s"))

	assert.Equal(t, 1, reg.PushToChat("s", domain.Response{Text: "hi"}))
}

func TestClientRegistry_CloseAll(t *testing.T) {
	reg := NewClientRegistry(testLog())
	c1, c2 := &fakeConn{}, &fakeConn{}
	reg.Add(NewClient(c1, ClientInfo{}, "", "s"))
	reg.Add(NewClient(c2, ClientInfo{}, "", "s"))

	reg.CloseAll()
	assert.Equal(t, 0, reg.Count())
	assert.True(t, c1.closed)
	assert.True(t, c2.closed)
}
