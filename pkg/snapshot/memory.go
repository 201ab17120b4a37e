package snapshot

import (
	"context"

	"collabsync/pkg/storage"
)

type MemoryStore struct {
	engine *storage.Engine[Snapshot]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{engine: storage.NewEngine[Snapshot](0)}
}

func (m *MemoryStore) Save(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.engine.Put(s.ID, s)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s, ok := m.engine.Get(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) List(ctx context.Context, fileID string) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Snapshot
	m.engine.Range(func(_ string, s Snapshot) bool {
		if s.FileID == fileID {
			out = append(out, s)
		}
		return true
	})
	sortNewest(out)
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
