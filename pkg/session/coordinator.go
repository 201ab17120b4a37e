// Package session связывает реплику, присутствие, арбитра слотов и снимки
// одного пользователя в одном файле и держит их синхронными через relay.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"collabsync/pkg/arbiter"
	"collabsync/pkg/crdt"
	"collabsync/pkg/presence"
	"collabsync/pkg/relay"
	"collabsync/pkg/snapshot"
	"collabsync/pkg/structs"
)

// Identity приходит от внешней подсистемы аутентификации уже проверенной
type Identity struct {
	UserID string
	Name   string
}

type Coordinator struct {
	dialer   relay.Dialer
	opts     Options
	registry *registry
}

func NewCoordinator(dialer relay.Dialer, opts Options) *Coordinator {
	opts.populateDefaults()
	return &Coordinator{
		dialer:   dialer,
		opts:     opts,
		registry: newRegistry(),
	}
}

// Open создаёт сессию и запускает её фоновую работу. Сеть в Open не ждётся:
// готовность подключения ждите через Session.Ready().
func (c *Coordinator) Open(ctx context.Context, id Identity, fileID string) (*Session, error) {
	if id.UserID == "" || fileID == "" {
		return nil, ErrInvalidIdentity
	}

	clientID := uuid.NewString()
	logger := c.opts.Logger.With("file_id", fileID, "user_id", id.UserID, "client_id", clientID)
	clock := crdt.NewClock(clientID)

	s := &Session{
		id:            clientID,
		identity:      id,
		fileID:        fileID,
		opts:          c.opts,
		logger:        logger,
		replica:       crdt.NewSequence(clientID),
		clock:         clock,
		presence:      presence.NewChannel(id.UserID, id.Name, clock, c.opts.PresenceTimeout, presence.Palette(c.opts.MaxEditors)),
		arbiter:       arbiter.New(c.opts.MaxEditors, logger),
		dialer:        c.dialer,
		registry:      c.registry,
		outbox:        make(chan outItem, c.opts.OutboxSize),
		notifications: make(chan Notification, notificationBuffer),
	}
	s.ready, s.markReady = structs.Pending[struct{}]()

	if c.opts.Store != nil {
		popts := c.opts.Persist
		popts.Logger = logger
		popts.OnWarning = func(err error) {
			s.notify(NotifyPersistenceWarning, "snapshots are failing to save", err)
		}
		s.persister = snapshot.NewPersister(c.opts.Store, fileID, popts)
		s.seed(ctx)
	}
	s.adopt(c.registry.byFile(fileID))

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Go(s.connectLoop)
	s.wg.Go(s.flushLoop)
	s.wg.Go(s.heartbeatLoop)
	if s.persister != nil {
		s.wg.Go(func() {
			s.persister.Run(s.ctx, s.replica, id.UserID, s.isSnapshotLeader)
		})
	}

	c.registry.add(s)
	logger.Info("session opened", "mode", string(c.opts.Mode), "open_sessions", c.registry.size())
	return s, nil
}

// seed поднимает реплику из последнего снимка файла. Испорченный снимок не фатален:
// реплика остаётся пустой и получает полное состояние от участников комнаты.
func (s *Session) seed(ctx context.Context) {
	snap, ok, err := s.persister.Latest(ctx)
	if err != nil {
		s.logger.Warn("could not load latest snapshot", "error", err)
		return
	}
	if !ok || len(snap.State) == 0 {
		return
	}
	replica, err := crdt.DecodeFullState(s.id, snap.State)
	if err != nil {
		s.logger.Error("stored snapshot is corrupt, refetching state from peers", "snapshot_id", snap.ID, "error", err)
		return
	}
	s.replica = replica
	s.logger.Debug("replica seeded from snapshot", "snapshot_id", snap.ID)
}

// adopt вливает в реплику состояние открытой в этом процессе сессии того же файла.
// Текст доступен сразу, ещё до ответа участников через relay.
func (s *Session) adopt(siblings []*Session) {
	for _, sib := range siblings {
		if sib.ctx.Err() != nil {
			continue
		}
		state, err := sib.replica.EncodeFullState()
		if err == nil {
			err = s.replica.ApplyRemoteDelta(state)
		}
		if err != nil {
			s.logger.Warn("could not adopt sibling state", "sibling", sib.id, "error", err)
			continue
		}
		s.logger.Debug("replica seeded from sibling session", "sibling", sib.id)
		return
	}
}

// Close закрывает все сессии координатора
func (c *Coordinator) Close(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   conc.WaitGroup
	)
	for _, s := range c.registry.all() {
		s := s
		wg.Go(func() {
			if err := s.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}
