// Package lock сериализует операции чтение-изменение-запись над одной сущностью.
//
// Ключи имеют вид "accounts", "user:<id>", "trials", "credits:<id>", "orders".
package lock

import (
	"context"
	"fmt"
	"sync"
)

// Unlock освобождает захваченную блокировку. Повторный вызов ничего не делает.
type Unlock func()

// Locker захватывает блокировку по ключу с учётом отмены контекста.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Key собирает ключ вида "<kind>:<id>".
func Key(kind, id string) string {
	return kind + ":" + id
}

// Local блокировки внутри одного процесса.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocal создает Local.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

// Lock ждёт освобождения ключа либо отмены ctx.
func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	const op = "lock.Local.Lock"

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, fmt.Errorf("%s: %s: %w", op, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// held возвращает число ключей, по которым кто-то держит или ждёт блокировку.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
