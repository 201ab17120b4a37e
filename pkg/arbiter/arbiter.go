// Package arbiter ограничивает число одновременных редакторов файла.
package arbiter

import (
	"log/slog"
	"sort"
	"sync"

	"collabsync/pkg/crdt"
	"collabsync/pkg/presence"
	"collabsync/pkg/structs"
)

const DefaultMaxEditors = 5

type State int

const (
	OpenSlot State = iota
	FullCapacity
)

func (s State) String() string {
	switch s {
	case OpenSlot:
		return "open_slot"
	case FullCapacity:
		return "full_capacity"
	default:
		return "unknown"
	}
}

// Arbiter решает по снимку присутствия. Когда несколько наблюдателей одновременно
// выдали слоты, действительными считаются первые N по (время выдачи, user id):
// этот порядок одинаков у всех участников.
type Arbiter struct {
	mu      sync.Mutex
	max     int
	state   State
	editors structs.Set[string]
	logger  *slog.Logger
}

func New(maxEditors int, logger *slog.Logger) *Arbiter {
	if maxEditors <= 0 {
		maxEditors = DefaultMaxEditors
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		max:     maxEditors,
		editors: structs.NewSet[string](),
		logger:  logger,
	}
}

func (a *Arbiter) Max() int {
	return a.max
}

// Effective возвращает пользователей, которые действительно держат слот
func (a *Arbiter) Effective(records map[string]presence.Record) structs.Set[string] {
	type holder struct {
		user  string
		grant crdt.Timestamp
	}
	var holders []holder
	for id, r := range records {
		if r.Editing && r.Grant != nil {
			holders = append(holders, holder{user: id, grant: *r.Grant})
		}
	}
	sort.Slice(holders, func(i, j int) bool {
		if c := crdt.Compare(holders[i].grant, holders[j].grant); c != crdt.Equal {
			return c == crdt.Lower
		}
		return holders[i].user < holders[j].user
	})

	out := structs.NewSet[string]()
	for i := 0; i < len(holders) && i < a.max; i++ {
		out.Add(holders[i].user)
	}
	return out
}

// Normalize возвращает копию снимка, в которой редакторы сверх лимита показаны зрителями
func (a *Arbiter) Normalize(records map[string]presence.Record) map[string]presence.Record {
	effective := a.Effective(records)
	out := make(map[string]presence.Record, len(records))
	for id, r := range records {
		if r.Editing && !effective.Contains(id) {
			r.Editing = false
			r.Grant = nil
		}
		out[id] = r
	}
	return out
}

// Decide выдаёт слот, если пользователь уже его держит или есть свободный.
// Иначе возвращает ErrCapacityDenied.
func (a *Arbiter) Decide(userID string, records map[string]presence.Record) error {
	effective := a.Effective(records)
	if effective.Contains(userID) {
		return nil
	}
	if effective.Size() < a.max {
		return nil
	}
	return ErrCapacityDenied
}

// Observe пересчитывает состояние по снимку и логирует переходы
func (a *Arbiter) Observe(records map[string]presence.Record) State {
	effective := a.Effective(records)

	a.mu.Lock()
	defer a.mu.Unlock()

	next := OpenSlot
	if effective.Size() >= a.max {
		next = FullCapacity
	}

	for _, user := range structs.Sorted(a.editors.Difference(effective)) {
		a.logger.Debug("editor slot released", "user_id", user)
	}
	if next != a.state {
		a.logger.Info("editor slots state changed", "from", a.state.String(), "to", next.String(), "editors", effective.Size())
	}
	a.state = next
	a.editors = effective
	return next
}

