package crdt

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

const SequenceName = "Sequence"

// Item: одна вставленная руна вместе с причинными метаданными
type Item struct {
	ID      ID     `json:"id"`
	Origin  *ID    `json:"o,omitempty"` // левый сосед на момент вставки, nil означает начало документа
	Lamport uint64 `json:"l"`
	Value   string `json:"v"`
}

func (it Item) sameAs(other Item) bool {
	if it.ID != other.ID || it.Lamport != other.Lamport || it.Value != other.Value {
		return false
	}
	if (it.Origin == nil) != (other.Origin == nil) {
		return false
	}
	return it.Origin == nil || *it.Origin == *other.Origin
}

func (it Item) validate() error {
	if it.ID.Client == "" || it.ID.Seq == 0 {
		return fmt.Errorf("invalid item id %s", it.ID)
	}
	if it.Lamport == 0 {
		return fmt.Errorf("item %s has zero lamport", it.ID)
	}
	if !utf8.ValidString(it.Value) || utf8.RuneCountInString(it.Value) != 1 {
		return fmt.Errorf("item %s must hold exactly one rune", it.ID)
	}
	if it.Origin != nil {
		if it.Origin.Client == "" || it.Origin.Seq == 0 {
			return fmt.Errorf("item %s has invalid origin", it.ID)
		}
		if *it.Origin == it.ID {
			return fmt.Errorf("item %s references itself", it.ID)
		}
	}
	return nil
}

// SequenceDelta: вставки и удаления. Полное состояние реплики кодируется тем же
// форматом: все элементы и всё множество удалений.
type SequenceDelta struct {
	Items   []Item `json:"items,omitempty"`
	Deletes []ID   `json:"deletes,omitempty"`
}

func (d *SequenceDelta) IsEmpty() bool {
	return d == nil || (len(d.Items) == 0 && len(d.Deletes) == 0)
}

func (d *SequenceDelta) MarshalJSON() ([]byte, error) {
	type Alias SequenceDelta
	return json.Marshal(struct {
		Type string `json:"type"`
		*Alias
	}{
		Type:  SequenceName,
		Alias: (*Alias)(d),
	})
}

func (d *SequenceDelta) UnmarshalJSON(data []byte) error {
	type Alias SequenceDelta
	aux := struct {
		Type string `json:"type"`
		*Alias
	}{
		Alias: (*Alias)(d),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Type != SequenceName {
		return fmt.Errorf("%w: expected %s, got %q", ErrDeltaTypeMismatch, SequenceName, aux.Type)
	}
	return nil
}

// validate проверяет дельту саму по себе, без учёта состояния реплики
func (d *SequenceDelta) validate() error {
	seen := make(map[ID]Item, len(d.Items))
	for _, it := range d.Items {
		if err := it.validate(); err != nil {
			return err
		}
		if prev, ok := seen[it.ID]; ok && !prev.sameAs(it) {
			return fmt.Errorf("%w: %s duplicated with different content", ErrConflictingItem, it.ID)
		}
		seen[it.ID] = it
	}
	for _, id := range d.Deletes {
		if id.Client == "" || id.Seq == 0 {
			return fmt.Errorf("invalid delete id %s", id)
		}
	}
	return nil
}

// DecodeDelta разбирает дельту из JSON; ошибки оборачиваются в MergeRejectedError
func DecodeDelta(data []byte) (*SequenceDelta, error) {
	var d SequenceDelta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, reject(fmt.Errorf("%w: %w", ErrMalformedDelta, err), "decode")
	}
	if err := d.validate(); err != nil {
		return nil, reject(fmt.Errorf("%w: %w", ErrMalformedDelta, err), "validate")
	}
	return &d, nil
}
