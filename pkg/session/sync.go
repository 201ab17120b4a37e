package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"

	"collabsync/pkg/crdt"
	"collabsync/pkg/presence"
	"collabsync/pkg/protocol"
	"collabsync/pkg/relay"
)

const sendTimeout = 5 * time.Second

// connectLoop держит подключение к комнате. После обрыва переподключается
// с экспоненциальной задержкой и досинхронизирует только недостающее.
func (s *Session) connectLoop() {
	first := true
	for {
		conn, err := s.dial()
		if err != nil {
			s.markReady(struct{}{}, err)
			return
		}

		s.attach(conn)
		if first {
			first = false
			s.markReady(struct{}{}, nil)
			s.logger.Info("connected to relay")
		} else {
			s.logger.Info("reconnected to relay")
			s.notify(NotifyReconnected, "connection restored", nil)
		}

		s.readLoop(conn)
		s.detach(conn)
		if s.ctx.Err() != nil {
			return
		}

		err = &relay.TransportError{Op: "receive", Room: s.fileID, Err: relay.ErrClosed}
		s.logger.Warn("relay connection lost", "error", err)
		s.notify(NotifyReconnecting, "connection lost, reconnecting", err)
	}
}

func (s *Session) dial() (relay.Conn, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.BackoffInitial
	eb.MaxInterval = s.opts.BackoffMax
	eb.MaxElapsedTime = 0
	eb.Reset()

	var conn relay.Conn
	op := func() error {
		c, err := s.dialer.Dial(s.ctx, s.fileID, s.id)
		if err != nil {
			if s.ctx.Err() != nil {
				return backoff.Permanent(s.ctx.Err())
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Debug("relay dial failed", "retry_in", next, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(eb, s.ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// attach делает подключение текущим и начинает обмен векторами состояния
func (s *Session) attach(conn relay.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.sendStateVector("", false)
	// новая метка: пока соединения не было, комната могла получить Left от relay
	s.broadcastPresence(s.presence.SetLocal(presence.Patch{}, time.Now()))
}

func (s *Session) detach(conn relay.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	conn.Close()
}

func (s *Session) readLoop(conn relay.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-conn.Receive():
			if !ok {
				return
			}
			s.handle(msg)
		}
	}
}

func (s *Session) handle(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindSync:
		if msg.Sync != nil {
			s.handleSync(msg)
		}
	case protocol.KindAwareness:
		if msg.Awareness != nil {
			s.handleAwareness(msg)
		}
	case protocol.KindSlot:
		if msg.Slot != nil {
			s.handleSlot(*msg.Slot)
		}
	}
}

// handleSync: на вектор состояния отвечаем адресной разницей; если это не ответ,
// шлём и свой вектор, чтобы собеседник прислал недостающее нам.
func (s *Session) handleSync(msg protocol.Message) {
	switch msg.Sync.Step {
	case protocol.StepStateVector:
		var sv crdt.StateVector
		if err := json.Unmarshal(msg.Sync.Data, &sv); err != nil {
			s.logger.Warn("malformed state vector", "from", msg.From, "error", err)
			return
		}
		data, err := s.catchUp(sv)
		if err != nil {
			s.logger.Error("encode diff", "error", err)
			return
		}
		if data != nil {
			_ = s.send(protocol.Message{
				Kind: protocol.KindSync,
				To:   msg.From,
				Sync: &protocol.Sync{Step: protocol.StepDiff, Data: data},
			})
		}
		if !msg.Sync.Reply {
			s.sendStateVector(msg.From, true)
			rec := s.presence.Local()
			a := rec.Awareness()
			_ = s.send(protocol.Message{Kind: protocol.KindAwareness, To: msg.From, Awareness: &a})
		}
	case protocol.StepDiff, protocol.StepUpdate:
		if err := s.replica.ApplyRemoteDelta(msg.Sync.Data); err != nil {
			s.logger.Warn("remote delta rejected", "from", msg.From, "step", string(msg.Sync.Step), "error", err)
		}
	}
}

// catchUp строит ответ на вектор состояния. Новому участнику с пустым вектором
// уходит полное состояние вместе с ожидающими элементами.
func (s *Session) catchUp(sv crdt.StateVector) ([]byte, error) {
	if len(sv) == 0 {
		if len(s.replica.StateVector()) == 0 {
			return nil, nil
		}
		return s.replica.EncodeFullState()
	}
	diff := s.replica.DiffSince(sv)
	if diff.IsEmpty() {
		return nil, nil
	}
	return json.Marshal(diff)
}

func (s *Session) handleAwareness(msg protocol.Message) {
	if _, changed := s.presence.ApplyRemote(*msg.Awareness, time.Now()); changed {
		s.observe()
	}
}

func (s *Session) handleSlot(slot protocol.Slot) {
	if slot.UserID != s.identity.UserID {
		return
	}

	s.slotMu.Lock()
	waiter := s.slotWaiter
	s.slotWaiter = nil
	s.slotMu.Unlock()

	if waiter != nil {
		waiter <- slot
		return
	}
	// отказ без запроса: relay отозвал слот
	if !slot.Granted && s.presence.Local().Editing {
		s.denied("read-only: "+slot.Reason, nil)
	}
}

func (s *Session) flushLoop() {
	for {
		select {
		case <-s.ctx.Done():
			s.drainOutbox()
			return
		case item := <-s.outbox:
			var err error
			if item.msg != nil {
				err = s.send(*item.msg)
			} else if !s.connected() {
				err = &relay.TransportError{Op: "flush", Room: s.fileID, Err: relay.ErrClosed}
			}
			if item.done != nil {
				item.done(struct{}{}, err)
			}
			if s.resync.CompareAndSwap(true, false) {
				s.sendStateVector("", false)
			}
		}
	}
}

func (s *Session) drainOutbox() {
	for {
		select {
		case item := <-s.outbox:
			if item.done != nil {
				item.done(struct{}{}, ErrClosed)
			}
		default:
			return
		}
	}
}

// heartbeatLoop периодически повторяет свою запись присутствия и удаляет
// записи участников, от которых давно ничего не было
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.broadcastPresence(s.presence.Touch(now))
			if removed := s.presence.Expire(now); len(removed) > 0 {
				s.logger.Debug("presence expired", "users", removed)
				s.observe()
			}
		}
	}
}

func (s *Session) connected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}

// send отправляет сообщение через текущее подключение. Ошибка отправки рвёт
// подключение: connectLoop переподключится и досинхронизируется.
func (s *Session) send(msg protocol.Message) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return &relay.TransportError{Op: "send", Room: s.fileID, Err: relay.ErrClosed}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := conn.Send(ctx, msg); err != nil {
		s.logger.Warn("send failed, dropping connection", "kind", string(msg.Kind), "error", err)
		conn.Close()
		return err
	}
	return nil
}

func (s *Session) sendStateVector(to string, reply bool) {
	data, err := json.Marshal(s.replica.StateVector())
	if err != nil {
		s.logger.Error("encode state vector", "error", err)
		return
	}
	_ = s.send(protocol.Message{
		Kind: protocol.KindSync,
		To:   to,
		Sync: &protocol.Sync{Step: protocol.StepStateVector, Reply: reply, Data: data},
	})
}

// broadcastPresence рассылает свою запись; после ухода из комнаты ничего не шлёт
func (s *Session) broadcastPresence(rec presence.Record) {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	if s.left {
		return
	}
	a := rec.Awareness()
	_ = s.send(protocol.Message{Kind: protocol.KindAwareness, Awareness: &a})
}
