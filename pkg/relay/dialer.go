package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabsync/pkg/protocol"
)

// WSDialer подключается к Server по WebSocket. BaseURL вида ws://host:port.
type WSDialer struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

func (d *WSDialer) Dial(ctx context.Context, roomID, clientID string) (Conn, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, &TransportError{Op: "dial", Room: roomID, Err: err}
	}
	u.Path = path.Join(u.Path, "rooms", roomID)
	q := u.Query()
	q.Set("client", clientID)
	u.RawQuery = q.Encode()

	dialer := &websocket.Dialer{HandshakeTimeout: d.Timeout}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &TransportError{Op: "dial", Room: roomID, Err: err}
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &wsConn{
		ws:     ws,
		room:   roomID,
		client: clientID,
		recv:   make(chan protocol.Message, sendBuffer),
		closed: make(chan struct{}),
		logger: logger,
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	room   string
	client string
	wmu    sync.Mutex
	recv   chan protocol.Message
	once   sync.Once
	closed chan struct{}
	logger *slog.Logger
}

func (c *wsConn) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case <-c.closed:
		return &TransportError{Op: "send", Room: c.room, Err: ErrClosed}
	default:
	}

	msg.Room = c.room
	msg.From = c.client

	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteJSON(msg); err != nil {
		return &TransportError{Op: "send", Room: c.room, Err: err}
	}
	return nil
}

func (c *wsConn) Receive() <-chan protocol.Message {
	return c.recv
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		c.wmu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) readLoop() {
	defer close(c.recv)
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Debug("relay connection lost", "room", c.room, "error", err)
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed message from relay", "room", c.room, "error", err)
			continue
		}
		select {
		case c.recv <- msg:
		case <-c.closed:
			return
		}
	}
}
