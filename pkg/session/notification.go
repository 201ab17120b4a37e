package session

import "time"

type NotificationKind string

const (
	NotifyReconnecting       NotificationKind = "reconnecting"
	NotifyReconnected        NotificationKind = "reconnected"
	NotifyReadOnly           NotificationKind = "read_only"
	NotifyPersistenceWarning NotificationKind = "persistence_warning"
)

// Notification: событие для пользователя. Не блокирует редактирование.
type Notification struct {
	Kind    NotificationKind
	Message string
	Err     error
	At      time.Time
}

const notificationBuffer = 32

func (s *Session) notify(kind NotificationKind, message string, err error) {
	n := Notification{Kind: kind, Message: message, Err: err, At: time.Now()}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if s.notifyClosed {
		return
	}
	select {
	case s.notifications <- n:
	default:
		s.logger.Warn("notification dropped, consumer is not reading", "kind", string(kind))
	}
}

func (s *Session) closeNotifications() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if !s.notifyClosed {
		s.notifyClosed = true
		close(s.notifications)
	}
}

// Notifications: канал уведомлений сессии; закрывается в Close
func (s *Session) Notifications() <-chan Notification {
	return s.notifications
}
