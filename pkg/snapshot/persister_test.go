package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"collabsync/pkg/crdt"
	"collabsync/pkg/util/logging"
)

var errDiskFull = errors.New("disk full")

// flakyStore отказывает в записи первые failures раз
type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
	saves    atomic.Int32
}

func (f *flakyStore) Save(ctx context.Context, s Snapshot) error {
	f.saves.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errDiskFull
	}
	return f.MemoryStore.Save(ctx, s)
}

func newFlaky(failures int32) *flakyStore {
	f := &flakyStore{MemoryStore: NewMemoryStore()}
	f.failures.Store(failures)
	return f
}

func replica(t *testing.T, text string) *crdt.Sequence {
	t.Helper()
	s := crdt.NewSequence("writer")
	if _, err := s.ApplyLocalEdit(0, 0, text); err != nil {
		t.Fatalf("ApplyLocalEdit: %v", err)
	}
	return s
}

func fastOptions() Options {
	return Options{
		Interval:      10 * time.Millisecond,
		Retries:       5,
		RetryInitial:  time.Millisecond,
		WarnThreshold: 3,
		Logger:        logging.Discard(),
	}
}

func TestPersister_CreateRetries(t *testing.T) {
	store := newFlaky(2)
	p := NewPersister(store, "doc", fastOptions())
	src := replica(t, "hello")

	snap, err := p.Create(context.Background(), src, "alice", "first")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if store.saves.Load() != 3 {
		t.Fatalf("expected 3 save attempts, got %d", store.saves.Load())
	}
	if snap.Content != "hello" || snap.CreatedBy != "alice" || snap.Message != "first" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if p.Dirty("hello") || !p.Dirty("hello!") {
		t.Fatalf("dirty tracking must follow the last saved content")
	}
	if p.Failures() != 0 {
		t.Fatalf("failures must reset after success")
	}

	restored, err := crdt.DecodeFullState("reader", snap.State)
	if err != nil || restored.Content() != "hello" {
		t.Fatalf("snapshot state must decode to the content: %v", err)
	}
}

func TestPersister_CreateWhileMerging(t *testing.T) {
	p := NewPersister(NewMemoryStore(), "doc", fastOptions())
	src := replica(t, "base")

	// удалённый писатель готовит дельты заранее
	remote := crdt.NewSequence("remote")
	if err := remote.ApplyRemoteDelta(mustState(t, src)); err != nil {
		t.Fatalf("seed remote: %v", err)
	}
	var deltas [][]byte
	for i := 0; i < 200; i++ {
		d, err := remote.ApplyLocalEdit(0, 0, "x")
		if err != nil {
			t.Fatalf("ApplyLocalEdit: %v", err)
		}
		data, err := d.MarshalJSON()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		deltas = append(deltas, data)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, data := range deltas {
			src.ApplyRemoteDelta(data)
		}
	}()

	for i := 0; i < 20; i++ {
		snap, err := p.Create(context.Background(), src, "alice", "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		restored, err := crdt.DecodeFullState("reader", snap.State)
		if err != nil {
			t.Fatalf("DecodeFullState: %v", err)
		}
		if restored.Content() != snap.Content {
			t.Fatalf("snapshot %d: state decodes to %q, content is %q", i, restored.Content(), snap.Content)
		}
	}
	<-done
}

func mustState(t *testing.T, s *crdt.Sequence) []byte {
	t.Helper()
	data, err := s.EncodeFullState()
	if err != nil {
		t.Fatalf("EncodeFullState: %v", err)
	}
	return data
}

func TestPersister_WarnsAfterThreshold(t *testing.T) {
	store := newFlaky(100)

	var mu sync.Mutex
	var warnings []error
	opts := fastOptions()
	opts.Retries = 4
	opts.OnWarning = func(err error) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, err)
	}
	p := NewPersister(store, "doc", opts)

	_, err := p.Create(context.Background(), replica(t, "x"), "alice", "")
	var perr *PersistenceError
	if !errors.As(err, &perr) || !errors.Is(err, errDiskFull) {
		t.Fatalf("Create() = %v, want PersistenceError wrapping errDiskFull", err)
	}
	if perr.Attempts != 5 {
		t.Fatalf("attempts = %d, want 5", perr.Attempts)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %d", len(warnings))
	}
	if !errors.As(warnings[0], &perr) || perr.Attempts != 3 {
		t.Fatalf("warning must report the threshold crossing: %v", warnings[0])
	}
}

func TestPersister_SilentBelowThreshold(t *testing.T) {
	store := newFlaky(2)
	warned := false
	opts := fastOptions()
	opts.OnWarning = func(error) { warned = true }

	p := NewPersister(store, "doc", opts)
	if _, err := p.Create(context.Background(), replica(t, "x"), "alice", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if warned {
		t.Fatalf("failures below the threshold must stay silent")
	}
}

func TestPersister_RunOnlyWhenDirtyAndLeader(t *testing.T) {
	store := newFlaky(0)
	p := NewPersister(store, "doc", fastOptions())
	src := replica(t, "hello")

	var leader atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, src, "alice", leader.Load)
	}()

	time.Sleep(50 * time.Millisecond)
	if store.saves.Load() != 0 {
		t.Fatalf("non-leader must not persist")
	}

	leader.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for store.saves.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("leader did not persist")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// содержимое не меняется: повторных снимков нет
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	if n := store.saves.Load(); n != 1 {
		t.Fatalf("expected a single snapshot of unchanged content, got %d", n)
	}
}

func TestPersister_Load(t *testing.T) {
	store := NewMemoryStore()
	p := NewPersister(store, "doc", fastOptions())
	ctx := context.Background()

	snap, err := p.Create(ctx, replica(t, "hello"), "alice", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	loaded, err := p.Load(ctx, snap.ID)
	if err != nil || loaded.Content != "hello" {
		t.Fatalf("Load() = %+v, %v", loaded, err)
	}

	var rerr *RestoreError
	if _, err := p.Load(ctx, "missing"); !errors.As(err, &rerr) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(missing) = %v", err)
	}

	corrupt := snap
	corrupt.ID = "corrupt"
	corrupt.Content = "evil"
	store.Save(ctx, corrupt)
	if _, err := p.Load(ctx, "corrupt"); !errors.As(err, &rerr) || !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("Load(corrupt) = %v", err)
	}

	foreign, _ := New("other", "bob", "", "x", nil, time.Now())
	store.Save(ctx, foreign)
	if _, err := p.Load(ctx, foreign.ID); !errors.Is(err, ErrWrongFile) {
		t.Fatalf("Load(foreign) = %v", err)
	}
}

func TestPersister_Latest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	writer := NewPersister(store, "doc", fastOptions())
	if _, err := writer.Create(ctx, replica(t, "v1"), "alice", ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := writer.Create(ctx, replica(t, "v2"), "alice", ""); err != nil {
		t.Fatal(err)
	}

	p := NewPersister(store, "doc", fastOptions())
	latest, ok, err := p.Latest(ctx)
	if err != nil || !ok || latest.Content != "v2" {
		t.Fatalf("Latest() = %+v, %v, %v", latest, ok, err)
	}
	if p.Dirty("v2") {
		t.Fatalf("content of the latest snapshot must not be dirty")
	}
}
