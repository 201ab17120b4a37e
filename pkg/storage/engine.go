// Package storage — шардированный реестр сущностей по строковому id.
// Сессии, комнаты и реплики ссылаются друг на друга только через id.
package storage

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
)

// scaleThreshold — при каком количестве ключей на шард начинаем увеличивать
const scaleThreshold = 4096

type shard[T any] struct {
	mu      sync.RWMutex
	data    map[string]T
	retired bool // шард заменён при росте, нужно перечитать массив
}

type Engine[T any] struct {
	shards     atomic.Pointer[[]*shard[T]]
	numShards  atomic.Uint32
	growthLock sync.Mutex
	countKeys  atomic.Int64
}

// NewEngine создаёт реестр; initialShards округляется до степени двойки
func NewEngine[T any](initialShards int) *Engine[T] {
	n := uint32(16)
	if initialShards > 0 {
		n = 1
		for n < uint32(initialShards) {
			n <<= 1
		}
	}
	e := &Engine[T]{}
	shards := make([]*shard[T], n)
	for i := range shards {
		shards[i] = &shard[T]{data: make(map[string]T)}
	}
	e.shards.Store(&shards)
	e.numShards.Store(n)
	return e
}

func (e *Engine[T]) Get(key string) (T, bool) {
	s := e.rlock(key)
	v, ok := s.data[key]
	s.mu.RUnlock()
	return v, ok
}

// Put сохраняет значение и возвращает true, если ключ новый
func (e *Engine[T]) Put(key string, v T) bool {
	s := e.lock(key)
	_, exists := s.data[key]
	s.data[key] = v
	s.mu.Unlock()

	if !exists {
		e.countKeys.Add(1)
		e.maybeScale()
	}
	return !exists
}

// GetOrCreate возвращает существующее значение или атомарно сохраняет созданное create
func (e *Engine[T]) GetOrCreate(key string, create func() T) (T, bool) {
	s := e.lock(key)
	if v, ok := s.data[key]; ok {
		s.mu.Unlock()
		return v, false
	}
	v := create()
	s.data[key] = v
	s.mu.Unlock()

	e.countKeys.Add(1)
	e.maybeScale()
	return v, true
}

// Delete удаляет ключ и возвращает удалённое значение
func (e *Engine[T]) Delete(key string) (T, bool) {
	s := e.lock(key)
	v, ok := s.data[key]
	if ok {
		delete(s.data, key)
	}
	s.mu.Unlock()

	if ok {
		e.countKeys.Add(-1)
	}
	return v, ok
}

func (e *Engine[T]) Len() int {
	return int(e.countKeys.Load())
}

// Range обходит все записи; fn не должен обращаться к реестру на запись
func (e *Engine[T]) Range(fn func(key string, v T) bool) {
	e.growthLock.Lock()
	defer e.growthLock.Unlock()

	for _, s := range *e.shards.Load() {
		s.mu.RLock()
		for k, v := range s.data {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// shardIndex возвращает номер шарда ключа; n всегда степень двойки
func shardIndex(key string, n uint32) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() & (n - 1)
}

func (e *Engine[T]) shardFor(key string) *shard[T] {
	arr := *e.shards.Load()
	return arr[shardIndex(key, uint32(len(arr)))]
}

// lock возвращает актуальный шард ключа, захваченный на запись
func (e *Engine[T]) lock(key string) *shard[T] {
	for {
		s := e.shardFor(key)
		s.mu.Lock()
		if !s.retired {
			return s
		}
		s.mu.Unlock()
	}
}

func (e *Engine[T]) rlock(key string) *shard[T] {
	for {
		s := e.shardFor(key)
		s.mu.RLock()
		if !s.retired {
			return s
		}
		s.mu.RUnlock()
	}
}

func (e *Engine[T]) maybeScale() {
	if e.countKeys.Load()/int64(e.numShards.Load()) > scaleThreshold {
		e.growShards()
	}
}

func (e *Engine[T]) growShards() {
	e.growthLock.Lock()
	defer e.growthLock.Unlock()

	current := e.numShards.Load()
	if e.countKeys.Load()/int64(current) <= scaleThreshold {
		return // кто-то уже увеличил
	}

	newCount := current * 2
	oldArr := *e.shards.Load()
	newArr := make([]*shard[T], newCount)
	for i := range newArr {
		newArr[i] = &shard[T]{data: make(map[string]T)}
	}

	// держим блокировки всех старых шардов, пока переносим данные
	for _, old := range oldArr {
		old.mu.Lock()
	}
	for _, old := range oldArr {
		for k, v := range old.data {
			newArr[shardIndex(k, newCount)].data[k] = v
		}
	}
	e.shards.Store(&newArr)
	e.numShards.Store(newCount)
	for _, old := range oldArr {
		old.retired = true
		old.mu.Unlock()
	}

	slog.Debug("registry scaled", "shards", newCount)
}
