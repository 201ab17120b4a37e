package structs

import (
	"context"
	"sync"
)

// Future: результат асинхронной операции (connect, flush, persist, restore).
// Отменяется через Cancel или через контекст, с которым была запущена.
type Future[T any] struct {
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	value  T
	err    error
}

// Go запускает fn в отдельной горутине и возвращает Future с её результатом
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		value, err := fn(ctx)
		f.resolve(value, err)
	}()
	return f
}

// Resolved возвращает уже завершённый Future
func Resolved[T any](value T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), cancel: func() {}}
	f.resolve(value, err)
	return f
}

// Pending возвращает Future, который завершается вызовом resolve извне
func Pending[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{}), cancel: func() {}}
	return f, f.resolve
}

func (f *Future[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait блокируется до завершения операции или отмены ctx
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) Cancel() {
	f.cancel()
}
