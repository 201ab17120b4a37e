package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"collabsync/pkg/config"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{"memory": NewMemoryStore()}

	bs, err := OpenBolt(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	stores["bolt"] = bs

	if dsn := os.Getenv("COLLABSYNC_POSTGRES_DSN"); dsn != "" {
		ctx := context.Background()
		ps, err := OpenPostgres(ctx, dsn)
		if err != nil {
			t.Fatalf("OpenPostgres: %v", err)
		}
		if err := ps.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		stores["postgres"] = ps
	}

	for _, s := range stores {
		s := s
		t.Cleanup(func() { s.Close() })
	}
	return stores
}

func TestStores_SaveGetList(t *testing.T) {
	base := time.Now().Truncate(time.Millisecond)
	// файл уникален на запуск: postgres-база может жить между прогонами
	fileID := "file-" + uuid.NewString()

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var saved []Snapshot
			for i, content := range []string{"a", "ab", "abc"} {
				s, err := New(fileID, "alice", "", content, []byte(`{"type":"Sequence"}`), base.Add(time.Duration(i)*time.Second))
				if err != nil {
					t.Fatalf("New: %v", err)
				}
				if err := store.Save(ctx, s); err != nil {
					t.Fatalf("Save: %v", err)
				}
				saved = append(saved, s)
			}
			other, _ := New("other-"+fileID, "bob", "", "zzz", nil, base)
			if err := store.Save(ctx, other); err != nil {
				t.Fatalf("Save: %v", err)
			}

			got, err := store.Get(ctx, saved[1].ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if diff := cmp.Diff(saved[1], got); diff != "" {
				t.Fatalf("Get() mismatch (-want +got):\n%s", diff)
			}

			list, err := store.List(ctx, fileID)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			var ids []string
			for _, s := range list {
				ids = append(ids, s.ID)
			}
			want := []string{saved[2].ID, saved[1].ID, saved[0].ID}
			if diff := cmp.Diff(want, ids); diff != "" {
				t.Fatalf("List() must be newest-first (-want +got):\n%s", diff)
			}

			if _, err := store.Get(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(unknown) = %v, want ErrNotFound", err)
			}
			if list, err := store.List(ctx, "absent-"+fileID); err != nil || len(list) != 0 {
				t.Fatalf("List(absent) = %v, %v", list, err)
			}
		})
	}
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	ctx := context.Background()

	bs, err := OpenBolt(path)
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	s, _ := New("doc", "alice", "before restart", "hello", nil, time.Now())
	if err := bs.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := bs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	bs, err = OpenBolt(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer bs.Close()

	list, err := bs.List(ctx, "doc")
	if err != nil || len(list) != 1 || list[0].Content != "hello" || list[0].Message != "before restart" {
		t.Fatalf("List after reopen = %+v, %v", list, err)
	}
}

func TestSnapshot_Verify(t *testing.T) {
	s, err := New("doc", "alice", "", "hello", nil, time.Now())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		t.Fatalf("id must be a uuid: %v", err)
	}
	if err := s.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	s.Content = "tampered"
	if err := s.Verify(); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("Verify() = %v, want ErrHashMismatch", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.PersistenceConfig{Driver: "bolt", Path: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatalf("Open(bolt): %v", err)
	}
	if _, ok := store.(*BoltStore); !ok {
		t.Fatalf("Open(bolt) returned %T", store)
	}
	store.Close()

	if _, err := Open(ctx, config.PersistenceConfig{Driver: "tape"}); !errors.Is(err, config.ErrUnknownDriver) {
		t.Fatalf("Open(tape) = %v, want ErrUnknownDriver", err)
	}
}
