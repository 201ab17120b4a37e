// Package crdt содержит реплицируемые структуры документа: последовательность
// символов (RGA), вектор состояния, гибридные логические часы и LWW-регистр.
package crdt

import "fmt"

// ID: глобально уникальный идентификатор вставки: клиент + его счётчик.
// Seq у каждого клиента непрерывно растёт с 1.
type ID struct {
	Client string `json:"c"`
	Seq    uint64 `json:"s"`
}

func (id ID) IsZero() bool {
	return id.Client == "" && id.Seq == 0
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Client, id.Seq)
}

func lessID(a, b ID) bool {
	if a.Client != b.Client {
		return a.Client < b.Client
	}
	return a.Seq < b.Seq
}
