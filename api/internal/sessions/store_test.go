package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"invoice-bot/api/internal/invoice"
	"invoice-bot/api/internal/reconcile"
)

func session(chatID int64) *reconcile.Session {
	return &reconcile.Session{
		ChatID: chatID,
		Draft:  invoice.Draft{Supplier: "ООО Ромашка", Positions: []invoice.Position{{Name: "Сливки", Unit: "l"}}},
		Fixed:  map[int]invoice.Resolution{},
		State:  reconcile.IssueList{},
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	if _, err := m.Get(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	s := session(1)
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	// хранилище держит копию
	s.Draft.Positions[0].Name = "изменено"

	got, err := m.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Draft.Positions[0].Name != "Сливки" {
		t.Fatalf("stored session aliased: %q", got.Draft.Positions[0].Name)
	}
	got.Draft.Supplier = "другой"
	again, _ := m.Get(ctx, 1)
	if again.Draft.Supplier != "ООО Ромашка" {
		t.Fatalf("returned session aliased")
	}

	if err := m.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_ = m.Save(ctx, session(7))
	if n, _ := m.Count(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
	now = now.Add(2 * time.Minute)
	if _, err := m.Get(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
	if n, _ := m.Count(ctx); n != 0 {
		t.Fatalf("count after expiry = %d", n)
	}
}

func TestMemoryLockSerializes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	unlock, err := m.Lock(ctx, 5)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(short, 5); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second lock must wait, got %v", err)
	}

	// другой чат не блокируется
	other, err := m.Lock(ctx, 6)
	if err != nil {
		t.Fatalf("lock other chat: %v", err)
	}
	other()

	unlock()
	again, err := m.Lock(ctx, 5)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

func TestKeys(t *testing.T) {
	if got := sessionKey(42); got != "invoice-bot:session:42" {
		t.Fatalf("sessionKey = %q", got)
	}
	if got := lockKey(-100123); got != "invoice-bot:lock:-100123" {
		t.Fatalf("lockKey = %q", got)
	}
}
