package crdt

import "sync"

// LWWRegister хранит значение, побеждает запись с большей HLC-меткой.
// Метка ставится владельцем значения, поэтому порядок одинаков на всех репликах.
type LWWRegister[T any] struct {
	mu    sync.RWMutex
	value T
	ts    Timestamp
	set   bool
}

func NewLWWRegister[T any]() *LWWRegister[T] {
	return &LWWRegister[T]{}
}

// Set применяет запись, если её метка новее текущей. Возвращает true, если значение заменено.
func (r *LWWRegister[T]) Set(value T, ts Timestamp) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.set && Compare(ts, r.ts) != Greater {
		return false
	}
	r.value = value
	r.ts = ts
	r.set = true
	return true
}

// Get возвращает текущее значение, его метку и признак наличия записи
func (r *LWWRegister[T]) Get() (T, Timestamp, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.ts, r.set
}
