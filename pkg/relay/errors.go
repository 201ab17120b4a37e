package relay

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("connection closed")
var ErrUnreachable = errors.New("relay unreachable")
var ErrNoRelayFound = errors.New("no relay found")

// TransportError: сбой соединения с relay. Сессия обрабатывает его сама
// (переподключение), наружу он попадает только как уведомление.
type TransportError struct {
	Op   string
	Room string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("relay %s room=%s: %v", e.Op, e.Room, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
