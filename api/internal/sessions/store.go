package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"invoice-bot/api/internal/reconcile"
)

var ErrNotFound = errors.New("session not found")

// Store хранит одну активную сессию сверки на чат.
type Store interface {
	Get(ctx context.Context, chatID int64) (*reconcile.Session, error)
	Save(ctx context.Context, s *reconcile.Session) error
	Delete(ctx context.Context, chatID int64) error
	// Lock сериализует обработку одного чата. Возвращает функцию освобождения.
	Lock(ctx context.Context, chatID int64) (func(), error)
	Count(ctx context.Context) (int, error)
}

type memoryEntry struct {
	s       *reconcile.Session
	expires time.Time
}

// Memory: хранилище в памяти процесса. Сессии копируются на входе и выходе.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[int64]memoryEntry
	locks map[int64]*sync.Mutex
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:   ttl,
		now:   time.Now,
		items: map[int64]memoryEntry{},
		locks: map[int64]*sync.Mutex{},
	}
}

func (m *Memory) Get(_ context.Context, chatID int64) (*reconcile.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	if m.ttl > 0 && m.now().After(e.expires) {
		delete(m.items, chatID)
		return nil, ErrNotFound
	}
	return e.s.Clone(), nil
}

func (m *Memory) Save(_ context.Context, s *reconcile.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[s.ChatID] = memoryEntry{s: s.Clone(), expires: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, chatID)
	return nil
}

func (m *Memory) Lock(ctx context.Context, chatID int64) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[chatID] = l
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.Lock()
		close(done)
	}()
	select {
	case <-done:
		return l.Unlock, nil
	case <-ctx.Done():
		// замок всё равно будет взят горутиной, отдаём его сразу
		go func() {
			<-done
			l.Unlock()
		}()
		return nil, ctx.Err()
	}
}

// Count: число живых сессий, для /stats.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := m.now()
	for _, e := range m.items {
		if m.ttl <= 0 || !now.After(e.expires) {
			n++
		}
	}
	return n, nil
}
