package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"collabsync/pkg/arbiter"
	"collabsync/pkg/crdt"
	"collabsync/pkg/presence"
	"collabsync/pkg/protocol"
	"collabsync/pkg/relay"
	"collabsync/pkg/snapshot"
	"collabsync/pkg/structs"
)

type outItem struct {
	msg  *protocol.Message
	done func(struct{}, error)
}

// Session: участие одного пользователя в редактировании одного файла.
// Реплика принадлежит только сессии; чужие правки приходят как дельты.
type Session struct {
	id       string
	identity Identity
	fileID   string
	opts     Options
	logger   *slog.Logger

	replica   *crdt.Sequence
	clock     *crdt.Clock
	presence  *presence.Channel
	arbiter   *arbiter.Arbiter
	persister *snapshot.Persister
	dialer    relay.Dialer
	registry  *registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	connMu    sync.RWMutex
	conn      relay.Conn
	ready     *structs.Future[struct{}]
	markReady func(struct{}, error)

	outbox chan outItem
	resync atomic.Bool

	slotMu     sync.Mutex
	slotWaiter chan protocol.Slot

	presenceMu sync.Mutex
	left       bool

	notifyMu      sync.Mutex
	notifyClosed  bool
	notifications chan Notification

	closeOnce sync.Once
	closeErr  error
}

// PresenceUpdate: изменение своей записи присутствия. Слот редактора
// меняется только через RequestEdit и ReleaseEdit.
type PresenceUpdate struct {
	Name           *string
	Cursor         *int
	ClearCursor    bool
	Selection      *protocol.Range
	ClearSelection bool
}

// ID: идентификатор сессии; он же client id реплики и подключения к relay
func (s *Session) ID() string {
	return s.id
}

func (s *Session) UserID() string {
	return s.identity.UserID
}

func (s *Session) FileID() string {
	return s.fileID
}

// Content: текущий текст документа (его читает и интеграция с VCS)
func (s *Session) Content() string {
	return s.replica.Content()
}

// Ready завершается после первого подключения к relay
func (s *Session) Ready() *structs.Future[struct{}] {
	return s.ready
}

// Edit применяет правку к реплике синхронно; рассылка идёт в фоне.
// Без слота редактора возвращает ErrReadOnly.
func (s *Session) Edit(start, end int, text string) (*crdt.SequenceDelta, error) {
	if s.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if !s.IsEditor() {
		return nil, ErrReadOnly
	}
	delta, err := s.replica.ApplyLocalEdit(start, end, text)
	if err != nil {
		return nil, err
	}
	s.publishDelta(delta)
	return delta, nil
}

func (s *Session) publishDelta(delta *crdt.SequenceDelta) {
	if delta.IsEmpty() {
		return
	}
	data, err := json.Marshal(delta)
	if err != nil {
		s.logger.Error("encode delta", "error", err)
		return
	}
	s.enqueue(outItem{msg: &protocol.Message{
		Kind: protocol.KindSync,
		Sync: &protocol.Sync{Step: protocol.StepUpdate, Data: data},
	}})
}

// IsEditor: держит ли пользователь действующий слот редактора
func (s *Session) IsEditor() bool {
	all := s.presence.All(time.Now())
	if !all[s.identity.UserID].Editing {
		return false
	}
	return s.arbiter.Effective(all).Contains(s.identity.UserID)
}

// SetPresence меняет свою запись и рассылает её комнате
func (s *Session) SetPresence(u PresenceUpdate) presence.Record {
	rec := s.presence.SetLocal(presence.Patch{
		Name:           u.Name,
		Cursor:         u.Cursor,
		ClearCursor:    u.ClearCursor,
		Selection:      u.Selection,
		ClearSelection: u.ClearSelection,
	}, time.Now())
	s.broadcastPresence(rec)
	return rec
}

// Presence возвращает известные записи комнаты. Редакторы сверх лимита
// показываются зрителями.
func (s *Session) Presence() map[string]presence.Record {
	return s.arbiter.Normalize(s.presence.All(time.Now()))
}

// SlotState считается по текущему снимку присутствия: записи могли
// просрочиться между тиками heartbeat.
func (s *Session) SlotState() arbiter.State {
	return s.arbiter.Observe(s.presence.All(time.Now()))
}

// RequestEdit запрашивает слот редактора. При отказе Future завершается с
// arbiter.ErrCapacityDenied, а сессия остаётся зрителем.
func (s *Session) RequestEdit() *structs.Future[struct{}] {
	if s.ctx.Err() != nil {
		return structs.Resolved(struct{}{}, ErrClosed)
	}
	if s.opts.Mode == ModeRelay {
		return structs.Go(s.ctx, s.requestFromRelay)
	}
	return structs.Resolved(struct{}{}, s.claimSlot())
}

// claimSlot: решение по своему снимку присутствия (режим peer)
func (s *Session) claimSlot() error {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	now := time.Now()
	all := s.presence.All(now)
	if err := s.arbiter.Decide(s.identity.UserID, all); err != nil {
		s.denied("read-only: editor slots are full", err)
		return err
	}

	local := all[s.identity.UserID]
	grant := local.Grant
	if !local.Editing || grant == nil {
		ts := s.clock.Now()
		grant = &ts
	}
	editing, request := true, false
	rec := s.presence.SetLocal(presence.Patch{Editing: &editing, Grant: grant, Request: &request}, now)
	s.broadcastPresence(rec)
	s.logger.Info("editor slot taken", "grant", grant.String())
	return nil
}

func (s *Session) requestFromRelay(ctx context.Context) (struct{}, error) {
	ch := make(chan protocol.Slot, 1)
	s.slotMu.Lock()
	s.slotWaiter = ch
	s.slotMu.Unlock()
	defer func() {
		s.slotMu.Lock()
		if s.slotWaiter == ch {
			s.slotWaiter = nil
		}
		s.slotMu.Unlock()
	}()

	request := true
	s.broadcastPresence(s.presence.SetLocal(presence.Patch{Request: &request}, time.Now()))

	select {
	case slot := <-ch:
		if !slot.Granted || slot.Grant == nil {
			err := fmt.Errorf("%w: %s", arbiter.ErrCapacityDenied, slot.Reason)
			s.denied("read-only: editor slots are full", err)
			return struct{}{}, err
		}
		editing, request := true, false
		rec := s.presence.SetLocal(presence.Patch{Editing: &editing, Grant: slot.Grant, Request: &request}, time.Now())
		s.broadcastPresence(rec)
		s.logger.Info("editor slot granted by relay", "grant", slot.Grant.String())
		return struct{}{}, nil
	case <-ctx.Done():
		request = false
		s.broadcastPresence(s.presence.SetLocal(presence.Patch{Request: &request}, time.Now()))
		return struct{}{}, ctx.Err()
	}
}

// denied переводит пользователя в зрители и сообщает об этом
func (s *Session) denied(message string, err error) {
	editing, request := false, false
	rec := s.presence.SetLocal(presence.Patch{Editing: &editing, Request: &request}, time.Now())
	s.broadcastPresence(rec)
	s.logger.Info("editor slot denied", "reason", message)
	s.notify(NotifyReadOnly, message, err)
}

// ReleaseEdit добровольно освобождает слот
func (s *Session) ReleaseEdit() {
	editing, request := false, false
	rec := s.presence.SetLocal(presence.Patch{Editing: &editing, Request: &request}, time.Now())
	s.broadcastPresence(rec)
	s.observe()
}

// observe пересчитывает состояние слотов. Если свой слот оказался за пределами
// первых N, пользователь сам становится зрителем.
func (s *Session) observe() {
	all := s.presence.All(time.Now())
	s.arbiter.Observe(all)

	if !all[s.identity.UserID].Editing {
		return
	}
	if s.arbiter.Effective(all).Contains(s.identity.UserID) {
		return
	}
	s.denied("read-only: editor slots are full", arbiter.ErrCapacityDenied)
}

func (s *Session) isSnapshotLeader() bool {
	effective := s.arbiter.Effective(s.presence.All(time.Now()))
	if !effective.Contains(s.identity.UserID) {
		return false
	}
	return structs.Sorted(effective)[0] == s.identity.UserID
}

// CreateSnapshot сохраняет текущее содержимое с необязательным сообщением
func (s *Session) CreateSnapshot(message string) *structs.Future[snapshot.Snapshot] {
	if s.persister == nil {
		return structs.Resolved(snapshot.Snapshot{}, ErrNoStore)
	}
	return structs.Go(s.ctx, func(ctx context.Context) (snapshot.Snapshot, error) {
		return s.persister.Create(ctx, s.replica, s.identity.UserID, message)
	})
}

// ListSnapshots возвращает снимки файла от новых к старым
func (s *Session) ListSnapshots(ctx context.Context) ([]snapshot.Snapshot, error) {
	if s.persister == nil {
		return nil, ErrNoStore
	}
	return s.persister.List(ctx)
}

// Restore возвращает документ к снимку обычной локальной правкой: вычисляется
// разница с текущим текстом и рассылается как любая дельта. Ошибки имеют тип *snapshot.RestoreError.
func (s *Session) Restore(snapshotID string) *structs.Future[snapshot.Snapshot] {
	return structs.Go(s.ctx, func(ctx context.Context) (snapshot.Snapshot, error) {
		if s.persister == nil {
			return snapshot.Snapshot{}, &snapshot.RestoreError{SnapshotID: snapshotID, Err: ErrNoStore}
		}
		if !s.IsEditor() {
			return snapshot.Snapshot{}, &snapshot.RestoreError{SnapshotID: snapshotID, Err: ErrReadOnly}
		}

		snap, err := s.persister.Load(ctx, snapshotID)
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		delta, err := s.replica.ApplySplices(func(content string) []crdt.Splice {
			return snapshot.Reconcile(content, snap.Content)
		})
		if err != nil {
			return snapshot.Snapshot{}, &snapshot.RestoreError{SnapshotID: snapshotID, Err: err}
		}
		s.publishDelta(delta)
		s.logger.Info("snapshot restored", "snapshot_id", snapshotID, "items", len(delta.Items), "deletes", len(delta.Deletes))
		return snap, nil
	})
}

// Flush завершается, когда всё, что было в очереди на момент вызова, отправлено
func (s *Session) Flush() *structs.Future[struct{}] {
	f, resolve := structs.Pending[struct{}]()
	if s.ctx.Err() != nil {
		resolve(struct{}{}, ErrClosed)
		return f
	}
	s.enqueue(outItem{done: resolve})
	return f
}

func (s *Session) enqueue(item outItem) {
	select {
	case s.outbox <- item:
	default:
		// правки уже в реплике: после сброса очереди участники дотянут их через вектор состояния
		s.resync.Store(true)
		s.logger.Warn("outbox is full, falling back to state vector resync")
		if item.done != nil {
			item.done(struct{}{}, ErrOutboxFull)
		}
	}
}

// Close уходит из комнаты и останавливает фоновую работу. Если уходит последний
// редактор и текст не сохранён, перед выходом снимается снимок.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		now := time.Now()
		local := s.presence.Local()
		effective := s.arbiter.Effective(s.presence.All(now))

		if s.persister != nil && effective.Contains(s.identity.UserID) && effective.Size() == 1 &&
			s.persister.Dirty(s.replica.Content()) {
			if _, err := s.persister.Create(ctx, s.replica, s.identity.UserID, "last editor left"); err != nil {
				s.logger.Error("snapshot on last editor leave failed", "error", err)
				s.closeErr = err
			}
		}

		if _, err := s.Flush().Wait(ctx); err != nil {
			s.logger.Debug("flush before close", "error", err)
		}

		leave := local.Awareness()
		leave.Left = true
		leave.Clock = s.clock.Now()
		s.presenceMu.Lock()
		s.left = true
		if err := s.send(protocol.Message{Kind: protocol.KindAwareness, Awareness: &leave}); err != nil {
			// остальные уберут запись по таймауту присутствия
			s.logger.Debug("send leave", "error", err)
		}
		s.presenceMu.Unlock()

		s.cancel()
		s.connMu.Lock()
		conn := s.conn
		s.conn = nil
		s.connMu.Unlock()
		if conn != nil {
			conn.Close()
		}
		s.wg.Wait()

		s.markReady(struct{}{}, ErrClosed)
		s.registry.remove(s.id)
		s.closeNotifications()
		s.logger.Info("session closed")
	})
	return s.closeErr
}
