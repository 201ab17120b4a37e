// Package snapshot хранит неизменяемые снимки содержимого файла и восстанавливает
// их обычной локальной правкой, которая сливается как любая другая.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Snapshot struct {
	ID          string    `json:"id"`
	FileID      string    `json:"file_id"`
	Content     string    `json:"content"`
	State       []byte    `json:"state,omitempty"` // полное состояние реплики
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	Message     string    `json:"message,omitempty"`
	ContentHash string    `json:"content_hash"`
}

// Store: долговременное хранилище снимков. List возвращает снимки файла от новых к старым.
type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Get(ctx context.Context, id string) (Snapshot, error)
	List(ctx context.Context, fileID string) ([]Snapshot, error)
	Close() error
}

func New(fileID, author, message, content string, state []byte, now time.Time) (Snapshot, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Snapshot{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	return Snapshot{
		ID:          id.String(),
		FileID:      fileID,
		Content:     content,
		State:       state,
		CreatedBy:   author,
		CreatedAt:   now.UTC(),
		Message:     message,
		ContentHash: Hash(content),
	}, nil
}

func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (s Snapshot) Verify() error {
	if Hash(s.Content) != s.ContentHash {
		return ErrHashMismatch
	}
	return nil
}

// sortNewest упорядочивает от новых к старым; id UUIDv7 разрешает равные метки
func sortNewest(list []Snapshot) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}
