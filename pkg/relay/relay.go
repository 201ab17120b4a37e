// Package relay доставляет сообщения между участниками комнаты.
// Relay смотрит только на заголовок конверта: без To сообщение уходит всем,
// кроме отправителя, с To только указанному участнику. Доставка at-least-once,
// порядок не гарантируется.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"collabsync/pkg/protocol"
)

// Conn: подключение клиента к комнате. Канал Receive закрывается при потере соединения.
type Conn interface {
	Send(ctx context.Context, msg protocol.Message) error
	Receive() <-chan protocol.Message
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, roomID, clientID string) (Conn, error)
}

// Backplane рассылает сообщения другим экземплярам relay
type Backplane interface {
	Publish(ctx context.Context, msg protocol.Message) error
}

// member: участник комнаты на стороне relay. deliver не блокируется:
// false означает, что клиент не успевает читать и будет отключён.
type member interface {
	id() string
	deliver(msg protocol.Message) bool
	kick()
}

type room struct {
	members map[string]member
}

type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	gate      *Gatekeeper
	backplane Backplane
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Hub)

func WithGatekeeper(g *Gatekeeper) Option {
	return func(h *Hub) { h.gate = g }
}

func WithBackplane(b Backplane) Option {
	return func(h *Hub) { h.backplane = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms:  make(map[string]*room),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// join добавляет участника; прежнее подключение с тем же client id вытесняется
func (h *Hub) join(roomID string, m member) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{members: make(map[string]member)}
		h.rooms[roomID] = r
	}
	old := r.members[m.id()]
	r.members[m.id()] = m
	h.mu.Unlock()

	if old != nil && old != m {
		old.kick()
	}
	h.logger.Debug("client joined", "room", roomID, "client_id", m.id())
}

func (h *Hub) leave(roomID string, m member) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok || r.members[m.id()] != m {
		h.mu.Unlock()
		m.kick()
		return
	}
	delete(r.members, m.id())
	if len(r.members) == 0 {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	m.kick()
	h.logger.Debug("client left", "room", roomID, "client_id", m.id())

	if h.gate == nil {
		return
	}
	if msg, ok := h.gate.Leave(roomID, m.id(), h.now()); ok {
		h.route(msg)
		h.publish(msg)
	}
}

// Dispatch принимает сообщение от локального клиента
func (h *Hub) Dispatch(msg protocol.Message) {
	var replies []protocol.Message
	if h.gate != nil {
		msg, replies = h.gate.Filter(msg, h.now())
	}
	h.route(msg)
	h.publish(msg)
	for _, r := range replies {
		h.route(r)
	}
}

// Deliver принимает сообщение от другого экземпляра relay: только локальная рассылка
func (h *Hub) Deliver(msg protocol.Message) {
	h.route(msg)
}

func (h *Hub) route(msg protocol.Message) {
	h.mu.RLock()
	var targets []member
	if r, ok := h.rooms[msg.Room]; ok {
		if msg.To != "" {
			if m, ok := r.members[msg.To]; ok {
				targets = append(targets, m)
			}
		} else {
			for id, m := range r.members {
				if id != msg.From {
					targets = append(targets, m)
				}
			}
		}
	}
	h.mu.RUnlock()

	for _, m := range targets {
		if !m.deliver(msg) {
			h.logger.Warn("client send buffer is full, disconnecting", "room", msg.Room, "client_id", m.id())
			h.leave(msg.Room, m)
		}
	}
}

func (h *Hub) publish(msg protocol.Message) {
	if h.backplane == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.backplane.Publish(ctx, msg); err != nil {
		h.logger.Warn("backplane publish failed", "room", msg.Room, "error", err)
	}
}

// Stats возвращает число комнат и подключённых клиентов
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.rooms {
		clients += len(r.members)
	}
	return len(h.rooms), clients
}
