package relay

import (
	"log/slog"
	"sync"
	"time"

	"collabsync/pkg/arbiter"
	"collabsync/pkg/crdt"
	"collabsync/pkg/presence"
	"collabsync/pkg/protocol"
	"collabsync/pkg/storage"
	"collabsync/pkg/structs"
)

// GatekeeperID: отправитель сообщений, которые формирует сам relay
const GatekeeperID = "relay"

type gateRoom struct {
	presence *presence.Channel
	arbiter  *arbiter.Arbiter
	granted  map[string]crdt.Timestamp // user id -> время выдачи слота
	clients  map[string]string         // client id -> user id
}

// Gatekeeper: авторитетная выдача слотов редактора на стороне relay.
// Отвечает на запросы слота сообщениями Slot и переписывает awareness,
// в которой клиент объявляет себя редактором без выданного слота.
// Состояние локально для экземпляра relay. Реестр комнат шардирован,
// а состояние внутри комнаты меняется под mu.
type Gatekeeper struct {
	mu         sync.Mutex
	rooms      *storage.Engine[*gateRoom]
	clock      *crdt.Clock
	maxEditors int
	timeout    time.Duration
	logger     *slog.Logger
}

func NewGatekeeper(maxEditors int, timeout time.Duration, logger *slog.Logger) *Gatekeeper {
	if maxEditors <= 0 {
		maxEditors = arbiter.DefaultMaxEditors
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatekeeper{
		rooms:      storage.NewEngine[*gateRoom](0),
		clock:      crdt.NewClock(GatekeeperID),
		maxEditors: maxEditors,
		timeout:    timeout,
		logger:     logger,
	}
}

func (g *Gatekeeper) room(id string) *gateRoom {
	r, created := g.rooms.GetOrCreate(id, func() *gateRoom {
		return &gateRoom{
			presence: presence.NewChannel(GatekeeperID, GatekeeperID, g.clock, g.timeout, nil),
			arbiter:  arbiter.New(g.maxEditors, g.logger.With("room", id)),
			granted:  make(map[string]crdt.Timestamp),
			clients:  make(map[string]string),
		}
	})
	if created {
		g.logger.Debug("room opened", "room", id)
	}
	return r
}

// Filter пропускает сообщение через арбитра. Возвращает сообщение для рассылки
// (возможно переписанное) и адресные ответы отправителю.
func (g *Gatekeeper) Filter(msg protocol.Message, now time.Time) (protocol.Message, []protocol.Message) {
	if msg.Kind != protocol.KindAwareness || msg.Awareness == nil || msg.Awareness.Validate() != nil {
		return msg, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.room(msg.Room)
	g.expire(r, now)

	a := *msg.Awareness
	var replies []protocol.Message

	switch {
	case a.Left:
		delete(r.clients, msg.From)
		if !r.hasUser(a.UserID) {
			r.release(a.UserID)
		}
	case a.Editing:
		r.clients[msg.From] = a.UserID
		ts, ok := r.granted[a.UserID]
		if !ok || crdt.Compare(ts, *a.Grant) != crdt.Equal {
			a.Editing = false
			a.Grant = nil
			replies = append(replies, g.slot(msg, protocol.Slot{
				UserID: a.UserID,
				Reason: "slot not granted",
			}))
			g.logger.Warn("editing claim without slot rewritten", "room", msg.Room, "user_id", a.UserID)
		}
	case a.Request:
		r.clients[msg.From] = a.UserID
		replies = append(replies, g.decide(r, msg, a.UserID))
	default:
		r.clients[msg.From] = a.UserID
		r.release(a.UserID)
	}

	r.presence.ApplyRemote(a, now)
	r.arbiter.Observe(r.holders())

	msg.Awareness = &a
	return msg, replies
}

func (g *Gatekeeper) decide(r *gateRoom, msg protocol.Message, userID string) protocol.Message {
	if err := r.arbiter.Decide(userID, r.holders()); err != nil {
		g.logger.Info("editor slot denied", "room", msg.Room, "user_id", userID, "editors", len(r.granted))
		return g.slot(msg, protocol.Slot{UserID: userID, Reason: err.Error()})
	}

	ts, ok := r.granted[userID]
	if !ok {
		ts = g.clock.Now()
		r.granted[userID] = ts
		g.logger.Info("editor slot granted", "room", msg.Room, "user_id", userID, "editors", len(r.granted))
	}
	return g.slot(msg, protocol.Slot{UserID: userID, Granted: true, Grant: &ts})
}

func (g *Gatekeeper) slot(to protocol.Message, s protocol.Slot) protocol.Message {
	return protocol.Message{
		Kind: protocol.KindSlot,
		Room: to.Room,
		From: GatekeeperID,
		To:   to.From,
		Slot: &s,
	}
}

// Leave вызывается при обрыве соединения клиента. Если у пользователя не осталось
// подключений, его слот освобождается, а комнате рассылается awareness с Left.
func (g *Gatekeeper) Leave(roomID, clientID string, now time.Time) (protocol.Message, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms.Get(roomID)
	if !ok {
		return protocol.Message{}, false
	}
	userID, ok := r.clients[clientID]
	delete(r.clients, clientID)
	if len(r.clients) == 0 {
		g.rooms.Delete(roomID)
		g.logger.Debug("room closed", "room", roomID)
	}
	if !ok || r.hasUser(userID) {
		return protocol.Message{}, false
	}

	// Left с меткой последней записи пользователя: его следующая запись будет новее
	clock := g.clock.Now()
	if rec, ok := r.presence.All(now)[userID]; ok {
		clock = rec.Clock
	}
	r.release(userID)
	r.presence.Remove(userID)
	r.arbiter.Observe(r.holders())

	return protocol.Message{
		Kind: protocol.KindAwareness,
		Room: roomID,
		From: clientID,
		Awareness: &protocol.Awareness{
			Version: protocol.AwarenessVersion,
			UserID:  userID,
			Left:    true,
			Clock:   clock,
		},
	}, true
}

// Editors возвращает пользователей, которым выдан слот в комнате
func (g *Gatekeeper) Editors(roomID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms.Get(roomID)
	if !ok {
		return nil
	}
	users := structs.NewSet[string]()
	for user := range r.granted {
		users.Add(user)
	}
	return structs.Sorted(users)
}

func (g *Gatekeeper) expire(r *gateRoom, now time.Time) {
	for _, user := range r.presence.Expire(now) {
		r.release(user)
		for client, u := range r.clients {
			if u == user {
				delete(r.clients, client)
			}
		}
	}
}

func (r *gateRoom) hasUser(userID string) bool {
	for _, u := range r.clients {
		if u == userID {
			return true
		}
	}
	return false
}

func (r *gateRoom) release(userID string) {
	delete(r.granted, userID)
}

// holders: выданные слоты в виде снимка присутствия для арбитра
func (r *gateRoom) holders() map[string]presence.Record {
	out := make(map[string]presence.Record, len(r.granted))
	for user, ts := range r.granted {
		grant := ts
		out[user] = presence.Record{UserID: user, Editing: true, Grant: &grant}
	}
	return out
}
