package session

import "errors"

var ErrReadOnly = errors.New("session does not hold an editor slot")
var ErrNoStore = errors.New("snapshot store is not configured")
var ErrClosed = errors.New("session closed")
var ErrInvalidIdentity = errors.New("identity and file id are required")
var ErrOutboxFull = errors.New("outbox is full")
