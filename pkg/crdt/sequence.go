package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"collabsync/pkg/structs"
)

type element struct {
	Item
	deleted bool
}

// Sequence: реплика текста (RGA). Элемент ставится сразу за своим origin,
// пропуская правых соседей с большим приоритетом: больший Lamport, при равенстве
// меньший client id. Порядок не зависит от порядка доставки дельт.
type Sequence struct {
	mu      sync.RWMutex
	client  string
	lamport uint64
	items   []*element
	index   map[ID]*element
	sv      StateVector

	pending  map[ID]Item     // элементы, чьи зависимости ещё не пришли
	deletes  structs.Set[ID] // все известные удаления
	unplaced structs.Set[ID] // удаления элементов, которых пока нет
	version  uint64
}

func NewSequence(clientID string) *Sequence {
	return &Sequence{
		client:   clientID,
		index:    make(map[ID]*element),
		sv:       make(StateVector),
		pending:  make(map[ID]Item),
		deletes:  structs.NewSet[ID](),
		unplaced: structs.NewSet[ID](),
	}
}

func (s *Sequence) ClientID() string {
	return s.client
}

// Content возвращает видимый текст
func (s *Sequence) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content()
}

func (s *Sequence) content() string {
	var b strings.Builder
	for _, e := range s.items {
		if !e.deleted {
			b.WriteString(e.Value)
		}
	}
	return b.String()
}

// Len: количество видимых рун
func (s *Sequence) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.visible())
}

// Version растёт при каждом изменении состояния (локальном или удалённом)
func (s *Sequence) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Sequence) StateVector() StateVector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sv.Clone()
}

// PendingCount: сколько элементов ждут своих зависимостей
func (s *Sequence) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Splice: замена рун [Start, End) на Text
type Splice struct {
	Start int
	End   int
	Text  string
}

// ApplyLocalEdit удаляет руны [start, end) и вставляет text на позицию start.
// Возвращает дельту для рассылки.
func (s *Sequence) ApplyLocalEdit(start, end int, text string) (*SequenceDelta, error) {
	return s.ApplySplices(func(string) []Splice {
		return []Splice{{Start: start, End: end, Text: text}}
	})
}

// ApplySplices атомарно применяет правки, которые plan строит по текущему тексту.
// Позиции каждой правки считаются после применения предыдущих. Если хоть одна
// правка выходит за границы, реплика не меняется.
func (s *Sequence) ApplySplices(plan func(content string) []Splice) (*SequenceDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visible := s.visible()
	var b strings.Builder
	for _, e := range visible {
		b.WriteString(e.Value)
	}
	splices := plan(b.String())

	n := len(visible)
	for _, sp := range splices {
		if sp.Start < 0 || sp.End < sp.Start || sp.End > n {
			return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrRangeOutOfBounds, sp.Start, sp.End, n)
		}
		n += utf8.RuneCountInString(sp.Text) - (sp.End - sp.Start)
	}

	delta := &SequenceDelta{}
	for _, sp := range splices {
		s.splice(visible, sp, delta)
		visible = s.visible()
	}
	if !delta.IsEmpty() {
		s.version++
	}
	return delta, nil
}

// splice применяет одну проверенную правку; вызывается под s.mu
func (s *Sequence) splice(visible []*element, sp Splice, delta *SequenceDelta) {
	for _, e := range visible[sp.Start:sp.End] {
		e.deleted = true
		s.deletes.Add(e.ID)
		delta.Deletes = append(delta.Deletes, e.ID)
	}

	var origin *ID
	if sp.Start > 0 {
		id := visible[sp.Start-1].ID
		origin = &id
	}
	for _, r := range sp.Text {
		s.lamport++
		it := Item{
			ID:      ID{Client: s.client, Seq: s.sv.Get(s.client) + 1},
			Origin:  origin,
			Lamport: s.lamport,
			Value:   string(r),
		}
		s.integrate(it)
		id := it.ID
		origin = &id
		delta.Items = append(delta.Items, it)
	}
}

// ApplyRemoteDelta сливает закодированную дельту. Некорректная дельта отклоняется
// целиком до изменения состояния (*MergeRejectedError).
func (s *Sequence) ApplyRemoteDelta(data []byte) error {
	d, err := DecodeDelta(data)
	if err != nil {
		return err
	}
	return s.Merge(d)
}

// Merge применяет уже разобранную дельту: сначала проверка, потом применение
func (s *Sequence) Merge(d *SequenceDelta) error {
	if d.IsEmpty() {
		return nil
	}
	if err := d.validate(); err != nil {
		return reject(fmt.Errorf("%w: %w", ErrMalformedDelta, err), "validate")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(d); err != nil {
		return err
	}

	for _, it := range d.Items {
		if s.sv.Covers(it.ID) {
			continue
		}
		if _, ok := s.pending[it.ID]; !ok {
			s.pending[it.ID] = it
		}
	}
	for _, id := range d.Deletes {
		if s.deletes.Contains(id) {
			continue
		}
		s.deletes.Add(id)
		s.unplaced.Add(id)
	}

	if s.drain() {
		s.version++
	}
	return nil
}

// check сверяет дельту с уже известными элементами; вызывается под s.mu
func (s *Sequence) check(d *SequenceDelta) error {
	for _, it := range d.Items {
		if e, ok := s.index[it.ID]; ok && !e.Item.sameAs(it) {
			return reject(ErrConflictingItem, "item %s", it.ID)
		}
		if p, ok := s.pending[it.ID]; ok && !p.sameAs(it) {
			return reject(ErrConflictingItem, "pending item %s", it.ID)
		}
		if it.Origin == nil {
			continue
		}
		if o, ok := s.index[*it.Origin]; ok && o.Lamport >= it.Lamport {
			return reject(ErrMalformedDelta, "item %s precedes its origin %s", it.ID, it.Origin)
		}
	}
	return nil
}

// drain интегрирует готовые элементы и применяет отложенные удаления.
// Возвращает true, если состояние изменилось.
func (s *Sequence) drain() bool {
	changed := false
	for progress := true; progress && len(s.pending) > 0; {
		progress = false
		for _, it := range s.sortedPending() {
			if !s.ready(it) {
				continue
			}
			delete(s.pending, it.ID)
			s.integrate(it)
			changed = true
			progress = true
		}
	}

	for id := range s.unplaced {
		e, ok := s.index[id]
		if !ok {
			continue
		}
		s.unplaced.Remove(id)
		if !e.deleted {
			e.deleted = true
			changed = true
		}
	}
	return changed
}

func (s *Sequence) sortedPending() []Item {
	out := make([]Item, 0, len(s.pending))
	for _, it := range s.pending {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

func (s *Sequence) ready(it Item) bool {
	if it.ID.Seq != s.sv.Get(it.ID.Client)+1 {
		return false
	}
	if it.Origin == nil {
		return true
	}
	_, ok := s.index[*it.Origin]
	return ok
}

// integrate вставляет элемент; зависимости должны быть уже на месте
func (s *Sequence) integrate(it Item) {
	pos := 0
	if it.Origin != nil {
		pos = s.position(*it.Origin) + 1
	}
	for pos < len(s.items) && precedes(s.items[pos].Item, it) {
		pos++
	}

	e := &element{Item: it}
	s.items = append(s.items, nil)
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = e
	s.index[it.ID] = e

	s.sv.Advance(it.ID.Client, it.ID.Seq)
	if it.Lamport > s.lamport {
		s.lamport = it.Lamport
	}
}

// precedes: должен ли уже стоящий элемент a остаться левее вставляемого b
func precedes(a, b Item) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport > b.Lamport
	}
	return a.ID.Client < b.ID.Client
}

func (s *Sequence) position(id ID) int {
	for i, e := range s.items {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Sequence) visible() []*element {
	out := make([]*element, 0, len(s.items))
	for _, e := range s.items {
		if !e.deleted {
			out = append(out, e)
		}
	}
	return out
}

// DiffSince возвращает элементы, которых нет у обладателя sv, и всё множество удалений
func (s *Sequence) DiffSince(sv StateVector) *SequenceDelta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.diffSince(sv)
}

func (s *Sequence) diffSince(sv StateVector) *SequenceDelta {
	d := &SequenceDelta{}
	for _, e := range s.items {
		if !sv.Covers(e.ID) {
			d.Items = append(d.Items, e.Item)
		}
	}
	for id := range s.deletes {
		d.Deletes = append(d.Deletes, id)
	}
	sort.Slice(d.Deletes, func(i, j int) bool { return lessID(d.Deletes[i], d.Deletes[j]) })
	return d
}

// EncodeFullState сериализует полное состояние (включая ожидающие элементы)
func (s *Sequence) EncodeFullState() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encodeFullState()
}

// Checkpoint возвращает текст и полное состояние, снятые под одной блокировкой:
// state всегда соответствует content.
func (s *Sequence) Checkpoint() (string, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.encodeFullState()
	if err != nil {
		return "", nil, err
	}
	return s.content(), state, nil
}

func (s *Sequence) encodeFullState() ([]byte, error) {
	d := s.diffSince(StateVector{})
	d.Items = append(d.Items, s.sortedPending()...)
	return json.Marshal(d)
}

// DecodeFullState восстанавливает реплику из EncodeFullState. clientID задаёт идентификатор
// новой реплики; он должен отличаться от идентификаторов живых реплик.
func DecodeFullState(clientID string, data []byte) (*Sequence, error) {
	s := NewSequence(clientID)
	if err := s.ApplyRemoteDelta(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return s, nil
}
