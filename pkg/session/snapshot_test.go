package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"collabsync/pkg/crdt"
	"collabsync/pkg/relay"
	"collabsync/pkg/snapshot"
	"collabsync/pkg/structs"
	"collabsync/pkg/util/logging"
)

var errDiskFull = errors.New("disk full")

type brokenStore struct {
	*snapshot.MemoryStore
}

func (brokenStore) Save(context.Context, snapshot.Snapshot) error {
	return errDiskFull
}

func withStore(store snapshot.Store) Options {
	opts := testOptions()
	opts.Store = store
	opts.Persist = snapshot.Options{
		Interval:      time.Hour,
		Retries:       3,
		RetryInitial:  time.Millisecond,
		WarnThreshold: 2,
	}
	return opts
}

func wait[T any](t *testing.T, f *structs.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return f.Wait(ctx)
}

func TestSession_RestoreSnapshot(t *testing.T) {
	store := snapshot.NewMemoryStore()
	hub := relay.NewMemoryHub(relay.WithLogger(logging.Discard()))
	c := NewCoordinator(hub, withStore(store))

	alice := open(t, c, "alice", "doc")
	bob := open(t, c, "bob", "doc")
	claim(t, alice)

	edit(t, alice, 0, 0, "hello")
	snap, err := wait(t, alice.CreateSnapshot("first draft"))
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap.Content != "hello" || snap.Message != "first draft" || snap.CreatedBy != "alice" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	edit(t, alice, 5, 5, " world")
	edit(t, alice, 0, 1, "J")
	eventually(t, "bob to see the edits", func() bool { return bob.Content() == "Jello world" })

	if _, err := wait(t, alice.Restore(snap.ID)); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := alice.Content(); got != "hello" {
		t.Fatalf("restored content = %q, want %q", got, "hello")
	}
	eventually(t, "bob to receive the restore", func() bool { return bob.Content() == "hello" })

	list, err := alice.ListSnapshots(context.Background())
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(list) != 1 || list[0].ID != snap.ID {
		t.Fatalf("ListSnapshots() = %+v", list)
	}
}

func TestSession_RestoreErrors(t *testing.T) {
	store := snapshot.NewMemoryStore()
	hub := relay.NewMemoryHub(relay.WithLogger(logging.Discard()))
	c := NewCoordinator(hub, withStore(store))

	alice := open(t, c, "alice", "doc")
	viewer := open(t, c, "viewer", "doc")
	claim(t, alice)

	var restoreErr *snapshot.RestoreError

	_, err := wait(t, alice.Restore("missing"))
	if !errors.As(err, &restoreErr) || !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("Restore(missing) = %v, want RestoreError wrapping ErrNotFound", err)
	}

	edit(t, alice, 0, 0, "text")
	snap, err := wait(t, alice.CreateSnapshot(""))
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	_, err = wait(t, viewer.Restore(snap.ID))
	if !errors.As(err, &restoreErr) || !errors.Is(err, ErrReadOnly) {
		t.Fatalf("viewer Restore = %v, want RestoreError wrapping ErrReadOnly", err)
	}

	// снимок другого файла
	other, err := snapshot.New("other", "mallory", "", "evil", nil, time.Now())
	if err != nil {
		t.Fatalf("snapshot.New: %v", err)
	}
	if err := store.Save(context.Background(), other); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, err = wait(t, alice.Restore(other.ID))
	if !errors.Is(err, snapshot.ErrWrongFile) {
		t.Fatalf("Restore(foreign) = %v, want ErrWrongFile", err)
	}
	if alice.Content() != "text" {
		t.Fatalf("failed restore changed the document: %q", alice.Content())
	}
}

func TestSession_WithoutStore(t *testing.T) {
	hub := relay.NewMemoryHub(relay.WithLogger(logging.Discard()))
	c := NewCoordinator(hub, testOptions())

	s := open(t, c, "alice", "doc")
	if _, err := wait(t, s.CreateSnapshot("")); !errors.Is(err, ErrNoStore) {
		t.Fatalf("CreateSnapshot() = %v, want ErrNoStore", err)
	}
	if _, err := s.ListSnapshots(context.Background()); !errors.Is(err, ErrNoStore) {
		t.Fatalf("ListSnapshots() = %v, want ErrNoStore", err)
	}
}

func TestSession_SeedsFromLatestSnapshot(t *testing.T) {
	store := snapshot.NewMemoryStore()

	src := crdt.NewSequence("old-client")
	if _, err := src.ApplyLocalEdit(0, 0, "persisted"); err != nil {
		t.Fatalf("ApplyLocalEdit: %v", err)
	}
	content, state, err := src.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	snap, err := snapshot.New("doc", "alice", "", content, state, time.Now())
	if err != nil {
		t.Fatalf("snapshot.New: %v", err)
	}
	if err := store.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	hub := relay.NewMemoryHub(relay.WithLogger(logging.Discard()))
	c := NewCoordinator(hub, withStore(store))
	s := open(t, c, "alice", "doc")
	if got := s.Content(); got != "persisted" {
		t.Fatalf("seeded content = %q, want %q", got, "persisted")
	}

	// новые правки продолжают историю снимка
	claim(t, s)
	edit(t, s, 9, 9, "!")
	if got := s.Content(); got != "persisted!" {
		t.Fatalf("content = %q", got)
	}
}

func TestSession_CorruptSnapshotFallsBackToPeers(t *testing.T) {
	store := snapshot.NewMemoryStore()
	bad, err := snapshot.New("doc", "alice", "", "lost", []byte("not a delta"), time.Now())
	if err != nil {
		t.Fatalf("snapshot.New: %v", err)
	}
	if err := store.Save(context.Background(), bad); err != nil {
		t.Fatalf("Save: %v", err)
	}

	hub := relay.NewMemoryHub(relay.WithLogger(logging.Discard()))
	peers := NewCoordinator(hub, testOptions())
	alice := open(t, peers, "alice", "doc")
	claim(t, alice)
	edit(t, alice, 0, 0, "live")

	c := NewCoordinator(hub, withStore(store))
	bob := open(t, c, "bob", "doc")
	eventually(t, "bob to fetch state from peers", func() bool { return bob.Content() == "live" })
}

func TestSession_LastEditorSnapshotsOnClose(t *testing.T) {
	store := snapshot.NewMemoryStore()
	hub := relay.NewMemoryHub(relay.WithLogger(logging.Discard()))
	c := NewCoordinator(hub, withStore(store))

	s := open(t, c, "alice", "doc")
	claim(t, s)
	edit(t, s, 0, 0, "draft")

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	list, err := store.List(context.Background(), "doc")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Content != "draft" {
		t.Fatalf("snapshots after close = %+v", list)
	}
}

func TestSession_ViewerCloseDoesNotSnapshot(t *testing.T) {
	store := snapshot.NewMemoryStore()
	hub := relay.NewMemoryHub(relay.WithLogger(logging.Discard()))
	c := NewCoordinator(hub, withStore(store))

	s := open(t, c, "viewer", "doc")
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	list, _ := store.List(context.Background(), "doc")
	if len(list) != 0 {
		t.Fatalf("viewer close created snapshots: %+v", list)
	}
}

func TestSession_PersistenceWarning(t *testing.T) {
	hub := relay.NewMemoryHub(relay.WithLogger(logging.Discard()))
	c := NewCoordinator(hub, withStore(brokenStore{snapshot.NewMemoryStore()}))

	s := open(t, c, "alice", "doc")
	claim(t, s)
	edit(t, s, 0, 0, "unsaved")

	_, err := wait(t, s.CreateSnapshot(""))
	var perr *snapshot.PersistenceError
	if !errors.As(err, &perr) || !errors.Is(err, errDiskFull) {
		t.Fatalf("CreateSnapshot() = %v, want PersistenceError wrapping errDiskFull", err)
	}

	n := expectNotification(t, s, NotifyPersistenceWarning)
	if !errors.Is(n.Err, errDiskFull) {
		t.Fatalf("warning error = %v", n.Err)
	}
	// редактирование не блокируется
	edit(t, s, 7, 7, "!")
}
