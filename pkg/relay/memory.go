package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"collabsync/pkg/protocol"
)

const memoryBuffer = 1024

// MemoryHub: relay внутри процесса. Используется в тестах и при встраивании:
// умеет принудительно разрывать соединения и отклонять подключения.
type MemoryHub struct {
	hub     *Hub
	offline atomic.Bool

	mu    sync.Mutex
	conns map[string]*memConn
}

func NewMemoryHub(opts ...Option) *MemoryHub {
	return &MemoryHub{
		hub:   NewHub(opts...),
		conns: make(map[string]*memConn),
	}
}

func (m *MemoryHub) Hub() *Hub {
	return m.hub
}

func (m *MemoryHub) Dial(ctx context.Context, roomID, clientID string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "dial", Room: roomID, Err: err}
	}
	if m.offline.Load() {
		return nil, &TransportError{Op: "dial", Room: roomID, Err: ErrUnreachable}
	}

	c := &memConn{
		hub:    m.hub,
		room:   roomID,
		client: clientID,
		recv:   make(chan protocol.Message, memoryBuffer),
	}
	m.hub.join(roomID, c)

	m.mu.Lock()
	m.conns[clientID] = c
	m.mu.Unlock()
	return c, nil
}

// Disconnect рвёт соединение клиента, как при сбое сети
func (m *MemoryHub) Disconnect(clientID string) bool {
	m.mu.Lock()
	c, ok := m.conns[clientID]
	delete(m.conns, clientID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.hub.leave(c.room, c)
	return true
}

// SetOffline: пока true, новые подключения отклоняются с ErrUnreachable
func (m *MemoryHub) SetOffline(offline bool) {
	m.offline.Store(offline)
}

type memConn struct {
	hub    *Hub
	room   string
	client string

	mu     sync.Mutex
	closed bool
	recv   chan protocol.Message
}

func (c *memConn) id() string {
	return c.client
}

func (c *memConn) Send(ctx context.Context, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "send", Room: c.room, Err: err}
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &TransportError{Op: "send", Room: c.room, Err: ErrClosed}
	}

	msg.Room = c.room
	msg.From = c.client
	c.hub.Dispatch(msg)
	return nil
}

func (c *memConn) Receive() <-chan protocol.Message {
	return c.recv
}

func (c *memConn) Close() error {
	c.hub.leave(c.room, c)
	return nil
}

func (c *memConn) deliver(msg protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.recv <- msg:
		return true
	default:
		return false
	}
}

func (c *memConn) kick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.recv)
	}
}
