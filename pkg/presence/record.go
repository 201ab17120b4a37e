package presence

import (
	"time"

	"collabsync/pkg/crdt"
	"collabsync/pkg/protocol"
)

// Record: эфемерное состояние пользователя в комнате. Не сохраняется.
type Record struct {
	UserID    string
	Name      string
	Color     string
	Cursor    *int
	Selection *protocol.Range
	Editing   bool
	Grant     *crdt.Timestamp // когда выдан слот редактора
	Request   bool            // запрос слота у авторитетного арбитра
	Clock     crdt.Timestamp  // HLC владельца на момент изменения
	Heartbeat time.Time       // когда запись в последний раз наблюдалась локально
}

// Patch: частичное обновление своей записи. nil-поля не меняются,
// Clear* явно сбрасывают nullable-поля.
type Patch struct {
	Name           *string
	Cursor         *int
	ClearCursor    bool
	Selection      *protocol.Range
	ClearSelection bool
	Editing        *bool
	Grant          *crdt.Timestamp
	Request        *bool
}

func (r Record) clone() Record {
	if r.Cursor != nil {
		c := *r.Cursor
		r.Cursor = &c
	}
	if r.Selection != nil {
		s := *r.Selection
		r.Selection = &s
	}
	if r.Grant != nil {
		g := *r.Grant
		r.Grant = &g
	}
	return r
}

func (r *Record) apply(p Patch) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	switch {
	case p.ClearCursor:
		r.Cursor = nil
	case p.Cursor != nil:
		c := *p.Cursor
		r.Cursor = &c
	}
	switch {
	case p.ClearSelection:
		r.Selection = nil
	case p.Selection != nil:
		s := *p.Selection
		r.Selection = &s
	}
	if p.Request != nil {
		r.Request = *p.Request
	}
	if p.Editing != nil {
		r.Editing = *p.Editing
		if !r.Editing {
			r.Grant = nil
		}
	}
	if p.Grant != nil && r.Editing {
		g := *p.Grant
		r.Grant = &g
	}
}

func (r Record) Awareness() protocol.Awareness {
	c := r.clone()
	return protocol.Awareness{
		Version:   protocol.AwarenessVersion,
		UserID:    c.UserID,
		Name:      c.Name,
		Color:     c.Color,
		Cursor:    c.Cursor,
		Selection: c.Selection,
		Editing:   c.Editing,
		Grant:     c.Grant,
		Request:   c.Request,
		Clock:     c.Clock,
	}
}

func FromAwareness(a protocol.Awareness, seen time.Time) Record {
	r := Record{
		UserID:    a.UserID,
		Name:      a.Name,
		Color:     a.Color,
		Cursor:    a.Cursor,
		Selection: a.Selection,
		Editing:   a.Editing,
		Grant:     a.Grant,
		Request:   a.Request,
		Clock:     a.Clock,
		Heartbeat: seen,
	}
	return r.clone()
}
