// Package presence хранит эфемерные записи присутствия комнаты: свою и чужие.
// Истечение записей локальное: каждый наблюдатель сам удаляет записи без heartbeat.
package presence

import (
	"sync"
	"time"

	"collabsync/pkg/crdt"
	"collabsync/pkg/protocol"
)

const DefaultTimeout = 30 * time.Second

type entry struct {
	reg  *crdt.LWWRegister[Record]
	seen time.Time
}

// tombstone: метка выхода пользователя. Записи с меткой не новее отбрасываются.
type tombstone struct {
	clock crdt.Timestamp
	seen  time.Time
}

type Channel struct {
	mu      sync.RWMutex
	local   Record
	clock   *crdt.Clock
	remote  map[string]*entry
	left    map[string]tombstone
	timeout time.Duration
}

// NewChannel создаёт канал присутствия для локального пользователя.
// Цвет назначается по палитре, размер которой равен лимиту редакторов.
func NewChannel(userID, name string, clock *crdt.Clock, timeout time.Duration, palette []string) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Channel{
		local: Record{
			UserID: userID,
			Name:   name,
			Color:  ColorFor(userID, palette),
			Clock:  clock.Now(),
		},
		clock:   clock,
		remote:  make(map[string]*entry),
		left:    make(map[string]tombstone),
		timeout: timeout,
	}
}

func (c *Channel) UserID() string {
	return c.local.UserID
}

// SetLocal сливает patch в свою запись и возвращает её копию для рассылки
func (c *Channel) SetLocal(p Patch, now time.Time) Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local.apply(p)
	c.local.Clock = c.clock.Now()
	c.local.Heartbeat = now
	return c.local.clone()
}

// Touch обновляет heartbeat своей записи без изменения полей
func (c *Channel) Touch(now time.Time) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local.Heartbeat = now
	return c.local.clone()
}

func (c *Channel) Local() Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local.clone()
}

// ApplyRemote принимает запись другого пользователя. Возвращает итоговую запись
// и true, если видимое состояние изменилось. Собственные записи игнорируются.
func (c *Channel) ApplyRemote(a protocol.Awareness, now time.Time) (Record, bool) {
	if err := a.Validate(); err != nil {
		return Record{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if a.UserID == c.local.UserID {
		return Record{}, false
	}
	c.clock.Observe(a.Clock)

	if a.Left {
		return Record{}, c.leave(a, now)
	}
	if t, ok := c.left[a.UserID]; ok {
		if !a.Clock.After(t.clock) {
			// запоздавшая запись от уже ушедшего пользователя
			return Record{}, false
		}
		delete(c.left, a.UserID)
	}

	e, ok := c.remote[a.UserID]
	if !ok {
		e = &entry{reg: crdt.NewLWWRegister[Record]()}
		c.remote[a.UserID] = e
	}
	e.seen = now
	changed := e.reg.Set(FromAwareness(a, now), a.Clock)

	rec, _, _ := e.reg.Get()
	rec.Heartbeat = e.seen
	return rec.clone(), changed
}

// leave удаляет запись, если выход не старше её метки, и запоминает метку выхода
func (c *Channel) leave(a protocol.Awareness, now time.Time) bool {
	if t, ok := c.left[a.UserID]; ok && !a.Clock.After(t.clock) {
		return false
	}
	e, existed := c.remote[a.UserID]
	if existed {
		if _, ts, _ := e.reg.Get(); ts.After(a.Clock) {
			return false
		}
		delete(c.remote, a.UserID)
	}
	c.left[a.UserID] = tombstone{clock: a.Clock, seen: now}
	return existed
}

// Remove удаляет запись пользователя, когда relay потерял все его соединения
func (c *Channel) Remove(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.remote[userID]
	delete(c.remote, userID)
	return ok
}

// Expire удаляет записи, heartbeat которых старше таймаута. Возвращает удалённые id.
func (c *Channel) Expire(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for id, e := range c.remote {
		if now.Sub(e.seen) > c.timeout {
			delete(c.remote, id)
			removed = append(removed, id)
		}
	}
	for id, t := range c.left {
		if now.Sub(t.seen) > c.timeout {
			delete(c.left, id)
		}
	}
	return removed
}

// All возвращает живые записи (своя + чужие). Просроченные пропускаются,
// удаляет их только Expire.
func (c *Channel) All(now time.Time) map[string]Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Record, len(c.remote)+1)
	for id, e := range c.remote {
		if now.Sub(e.seen) > c.timeout {
			continue
		}
		rec, _, _ := e.reg.Get()
		rec.Heartbeat = e.seen
		out[id] = rec.clone()
	}
	out[c.local.UserID] = c.local.clone()
	return out
}
