package crdt

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Результаты сравнения
const (
	Lower   = -1
	Equal   = 0
	Greater = 1
)

// Timestamp — метка гибридных логических часов.
// WallTime в наносекундах (UnixNano), ID — идентификатор источника для tie-break.
type Timestamp struct {
	WallTime uint64 `json:"w"`
	Logical  uint64 `json:"l"`
	ID       string `json:"id"`
}

func (t Timestamp) IsZero() bool {
	return t.WallTime == 0 && t.Logical == 0 && t.ID == ""
}

func (t Timestamp) Before(other Timestamp) bool { return Compare(t, other) == Lower }
func (t Timestamp) After(other Timestamp) bool  { return Compare(t, other) == Greater }

func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t.WallTime)).UTC()
}

func (t Timestamp) String() string {
	return fmt.Sprintf("(%s, L=%d, id=%s)", t.Time().Format(time.RFC3339Nano), t.Logical, t.ID)
}

func Compare(a, b Timestamp) int {
	if a.WallTime < b.WallTime {
		return Lower
	}
	if a.WallTime > b.WallTime {
		return Greater
	}
	if a.Logical < b.Logical {
		return Lower
	}
	if a.Logical > b.Logical {
		return Greater
	}
	if a.ID < b.ID {
		return Lower
	}
	if a.ID > b.ID {
		return Greater
	}
	return Equal
}

type pair struct {
	wall    uint64
	logical uint64
}

// Clock — HLC генератор без блокировок (CAS на atomic.Pointer[pair])
type Clock struct {
	id  string
	st  atomic.Pointer[pair]
	now func() time.Time
}

func NewClock(id string) *Clock {
	c := &Clock{id: id, now: time.Now}
	c.st.Store(&pair{})
	return c
}

// WithNow подменяет источник физического времени (для тестов)
func (c *Clock) WithNow(now func() time.Time) *Clock {
	c.now = now
	return c
}

func (c *Clock) ID() string {
	return c.id
}

func (c *Clock) nowNano() uint64 {
	return uint64(c.now().UnixNano())
}

// Now генерирует локальную метку, строго большую всех выданных ранее
func (c *Clock) Now() Timestamp {
	for {
		now := c.nowNano()
		p := c.st.Load()

		next := pair{wall: now}
		if now <= p.wall {
			next = pair{wall: p.wall, logical: p.logical + 1}
		}

		if c.st.CompareAndSwap(p, &next) {
			return Timestamp{WallTime: next.wall, Logical: next.logical, ID: c.id}
		}
	}
}

// Observe сливает удалённую метку и возвращает новую локальную,
// которая больше и локального состояния, и remote.
func (c *Clock) Observe(remote Timestamp) Timestamp {
	for {
		now := c.nowNano()
		p := c.st.Load()

		wall := max(p.wall, now, remote.WallTime)

		var logical uint64
		switch {
		case wall == p.wall && wall == remote.WallTime:
			logical = max(p.logical, remote.Logical) + 1
		case wall == remote.WallTime:
			logical = remote.Logical + 1
		case wall == p.wall:
			logical = p.logical + 1
		default:
			// физическое время ушло вперёд
			logical = 0
		}

		next := &pair{wall: wall, logical: logical}
		if c.st.CompareAndSwap(p, next) {
			return Timestamp{WallTime: wall, Logical: logical, ID: c.id}
		}
	}
}
