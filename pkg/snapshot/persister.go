package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultInterval      = 2 * time.Minute
	DefaultRetries       = 5
	DefaultRetryInitial  = 500 * time.Millisecond
	DefaultWarnThreshold = 3
)

// Source: реплика, с которой снимается снимок. Checkpoint отдаёт текст
// и состояние одного и того же момента.
type Source interface {
	Content() string
	Checkpoint() (string, []byte, error)
}

type Options struct {
	Interval      time.Duration
	Retries       int
	RetryInitial  time.Duration
	WarnThreshold int
	// OnWarning вызывается, когда подряд неудачных попыток записи стало WarnThreshold
	OnWarning func(err error)
	Logger    *slog.Logger
	Now       func() time.Time
}

func (o *Options) populateDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = DefaultRetryInitial
	}
	if o.WarnThreshold <= 0 {
		o.WarnThreshold = DefaultWarnThreshold
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Persister сохраняет снимки одного файла: по таймеру, по запросу и при уходе
// последнего редактора. Ошибки записи повторяются с экспоненциальной задержкой.
type Persister struct {
	store  Store
	fileID string
	opts   Options

	mu       sync.Mutex
	lastHash string
	failures int
	warned   bool
}

func NewPersister(store Store, fileID string, opts Options) *Persister {
	opts.populateDefaults()
	return &Persister{
		store:    store,
		fileID:   fileID,
		opts:     opts,
		lastHash: Hash(""),
	}
}

func (p *Persister) FileID() string {
	return p.fileID
}

// Latest возвращает самый новый снимок файла и запоминает его хэш как сохранённый
func (p *Persister) Latest(ctx context.Context) (Snapshot, bool, error) {
	list, err := p.store.List(ctx, p.fileID)
	if err != nil || len(list) == 0 {
		return Snapshot{}, false, err
	}
	p.mu.Lock()
	p.lastHash = list[0].ContentHash
	p.mu.Unlock()
	return list[0], true, nil
}

// Dirty: содержимое отличается от последнего сохранённого
func (p *Persister) Dirty(content string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Hash(content) != p.lastHash
}

func (p *Persister) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Create снимает снимок с src и сохраняет его. После исчерпания повторов
// возвращает *PersistenceError.
func (p *Persister) Create(ctx context.Context, src Source, author, message string) (Snapshot, error) {
	content, state, err := src.Checkpoint()
	if err != nil {
		return Snapshot{}, &PersistenceError{Op: "encode", FileID: p.fileID, Err: err}
	}
	snap, err := New(p.fileID, author, message, content, state, p.opts.Now())
	if err != nil {
		return Snapshot{}, &PersistenceError{Op: "create", FileID: p.fileID, Err: err}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.opts.RetryInitial
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.opts.Retries)), ctx)

	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		err := p.store.Save(ctx, snap)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		p.recordFailure(err)
		return err
	}, b)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return Snapshot{}, &PersistenceError{Op: "save", FileID: p.fileID, Attempts: attempts, Err: err}
	}

	p.mu.Lock()
	p.lastHash = snap.ContentHash
	p.failures = 0
	p.warned = false
	p.mu.Unlock()

	p.opts.Logger.Info("snapshot saved", "file_id", p.fileID, "snapshot_id", snap.ID, "created_by", author, "attempts", attempts)
	return snap, nil
}

func (p *Persister) recordFailure(err error) {
	p.mu.Lock()
	p.failures++
	failures := p.failures
	warn := failures >= p.opts.WarnThreshold && !p.warned
	if warn {
		p.warned = true
	}
	p.mu.Unlock()

	p.opts.Logger.Debug("snapshot save attempt failed", "file_id", p.fileID, "failures", failures, "error", err)
	if warn {
		p.opts.Logger.Warn("snapshot persistence is failing", "file_id", p.fileID, "failures", failures, "error", err)
		if p.opts.OnWarning != nil {
			p.opts.OnWarning(&PersistenceError{Op: "save", FileID: p.fileID, Attempts: failures, Err: err})
		}
	}
}

// Run снимает снимки по таймеру, пока не отменён ctx. Снимок пишется, только если
// leader() разрешает и содержимое изменилось с последнего сохранения.
func (p *Persister) Run(ctx context.Context, src Source, author string, leader func() bool) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if leader != nil && !leader() {
				continue
			}
			if !p.Dirty(src.Content()) {
				continue
			}
			if _, err := p.Create(ctx, src, author, ""); err != nil && ctx.Err() == nil {
				p.opts.Logger.Error("periodic snapshot failed", "file_id", p.fileID, "error", err)
			}
		}
	}
}

func (p *Persister) List(ctx context.Context) ([]Snapshot, error) {
	return p.store.List(ctx, p.fileID)
}

// Load загружает снимок для восстановления и проверяет его целостность.
// Любая ошибка возвращается как *RestoreError.
func (p *Persister) Load(ctx context.Context, snapshotID string) (Snapshot, error) {
	snap, err := p.store.Get(ctx, snapshotID)
	if err != nil {
		return Snapshot{}, &RestoreError{SnapshotID: snapshotID, Err: err}
	}
	if snap.FileID != p.fileID {
		return Snapshot{}, &RestoreError{SnapshotID: snapshotID, Err: ErrWrongFile}
	}
	if err := snap.Verify(); err != nil {
		return Snapshot{}, &RestoreError{SnapshotID: snapshotID, Err: err}
	}
	return snap, nil
}
