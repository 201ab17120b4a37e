// Package protocol описывает сообщения, которые ходят через relay в пределах комнаты.
// Relay читает только заголовок (kind, room, from, to); полезная нагрузка для него непрозрачна.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"collabsync/pkg/crdt"
)

type Kind string

const (
	KindSync      Kind = "sync"
	KindAwareness Kind = "awareness"
	KindSlot      Kind = "slot"
)

type SyncStep string

const (
	// StepStateVector: отправитель сообщает свой вектор состояния и просит недостающее
	StepStateVector SyncStep = "sv"
	// StepDiff: ответ на StepStateVector
	StepDiff SyncStep = "diff"
	// StepUpdate: локальная правка
	StepUpdate SyncStep = "update"
)

const AwarenessVersion = 1

var ErrMalformedMessage = errors.New("malformed message")

type Sync struct {
	Step  SyncStep `json:"step"`
	Reply bool     `json:"reply,omitempty"`
	Data  []byte   `json:"data,omitempty"`
}

type Range struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Awareness: версия 1 схемы присутствия. Cursor и Selection явно nullable.
type Awareness struct {
	Version   int             `json:"v"`
	UserID    string          `json:"uid"`
	Name      string          `json:"name,omitempty"`
	Color     string          `json:"color,omitempty"`
	Cursor    *int            `json:"cur"`
	Selection *Range          `json:"sel"`
	Editing   bool            `json:"ed"`
	Grant     *crdt.Timestamp `json:"grant,omitempty"`
	Request   bool            `json:"req,omitempty"`
	Left      bool            `json:"left,omitempty"`
	Clock     crdt.Timestamp  `json:"ts"`
}

func (a *Awareness) Validate() error {
	if a.Version != AwarenessVersion {
		return fmt.Errorf("unsupported awareness version %d", a.Version)
	}
	if a.UserID == "" {
		return errors.New("awareness without user id")
	}
	if a.Clock.IsZero() {
		return errors.New("awareness without clock")
	}
	if a.Cursor != nil && *a.Cursor < 0 {
		return fmt.Errorf("negative cursor %d", *a.Cursor)
	}
	if a.Selection != nil && (a.Selection.Anchor < 0 || a.Selection.Head < 0) {
		return fmt.Errorf("negative selection %+v", *a.Selection)
	}
	if a.Editing && a.Grant == nil {
		return errors.New("editing without slot grant")
	}
	return nil
}

// Slot: явный ответ авторитетного арбитра на запрос слота редактора
type Slot struct {
	UserID  string          `json:"uid"`
	Granted bool            `json:"granted"`
	Grant   *crdt.Timestamp `json:"grant,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

type Message struct {
	Kind      Kind       `json:"kind"`
	Room      string     `json:"room"`
	From      string     `json:"from"`
	To        string     `json:"to,omitempty"`
	Sync      *Sync      `json:"sync,omitempty"`
	Awareness *Awareness `json:"awareness,omitempty"`
	Slot      *Slot      `json:"slot,omitempty"`
}

func (m Message) Validate() error {
	if m.Room == "" || m.From == "" {
		return fmt.Errorf("%w: missing room or sender", ErrMalformedMessage)
	}
	switch m.Kind {
	case KindSync:
		if m.Sync == nil {
			return fmt.Errorf("%w: sync without payload", ErrMalformedMessage)
		}
		switch m.Sync.Step {
		case StepStateVector, StepDiff, StepUpdate:
		default:
			return fmt.Errorf("%w: unknown sync step %q", ErrMalformedMessage, m.Sync.Step)
		}
	case KindAwareness:
		if m.Awareness == nil {
			return fmt.Errorf("%w: awareness without payload", ErrMalformedMessage)
		}
		if err := m.Awareness.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
	case KindSlot:
		if m.Slot == nil || m.Slot.UserID == "" {
			return fmt.Errorf("%w: slot without payload", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, m.Kind)
	}
	return nil
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
