package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketByID   = []byte("snapshots")
	bucketByFile = []byte("files")
)

// BoltStore хранит снимки в одном файле bbolt. В бакете files для каждого файла
// свой вложенный бакет: ключи там UUIDv7, поэтому порядок ключей совпадает с временем.
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketByID); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketByFile)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Save(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketByID).Put([]byte(s.ID), data); err != nil {
			return err
		}
		file, err := tx.Bucket(bucketByFile).CreateBucketIfNotExists([]byte(s.FileID))
		if err != nil {
			return err
		}
		return file.Put([]byte(s.ID), nil)
	})
}

func (b *BoltStore) Get(ctx context.Context, id string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketByID).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &s)
	})
	return s, err
}

func (b *BoltStore) List(ctx context.Context, fileID string) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		file := tx.Bucket(bucketByFile).Bucket([]byte(fileID))
		if file == nil {
			return nil
		}
		byID := tx.Bucket(bucketByID)
		c := file.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			data := byID.Get(k)
			if data == nil {
				continue
			}
			var s Snapshot
			if err := json.Unmarshal(data, &s); err != nil {
				return fmt.Errorf("decode snapshot %s: %w", k, err)
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewest(out)
	return out, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}
