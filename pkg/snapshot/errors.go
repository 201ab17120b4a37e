package snapshot

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("snapshot not found")
var ErrHashMismatch = errors.New("snapshot content hash mismatch")
var ErrWrongFile = errors.New("snapshot belongs to another file")

// PersistenceError: не удалось сохранить снимок после всех повторов.
// На редактирование не влияет.
type PersistenceError struct {
	Op       string
	FileID   string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("snapshot %s file=%s failed after %d attempt(s): %v", e.Op, e.FileID, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RestoreError возвращается только пользователю, запросившему восстановление
type RestoreError struct {
	SnapshotID string
	Err        error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore snapshot %s: %v", e.SnapshotID, e.Err)
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}
