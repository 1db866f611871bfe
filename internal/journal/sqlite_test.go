package journal

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"tradeguard/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	s, err := NewStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to open test journal: %v", err)
	}
	return s
}

func newTestIntent(symbol string) *domain.TradeIntent {
	return domain.NewTradeIntent(symbol, domain.SideBuy, decimal.NewFromFloat(0.1), 0.9)
}

func TestAppendAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	intent := newTestIntent("BTCUSDT")
	if err := s.Append(ctx, intent); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	fetched, err := s.Get(ctx, intent.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.State != domain.StatePending {
		t.Errorf("State = %s, want PENDING", fetched.State)
	}
	if !fetched.Amount.Equal(intent.Amount) {
		t.Errorf("Amount = %v, want %v", fetched.Amount, intent.Amount)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrIntentNotFound) {
		t.Errorf("Get(missing) = %v, want ErrIntentNotFound", err)
	}
}

func TestAppend_RejectsNonPending(t *testing.T) {
	s := setupTestStore(t)

	intent := newTestIntent("BTCUSDT")
	intent.State = domain.StateExecuting
	if err := s.Append(context.Background(), intent); err == nil {
		t.Fatal("Append should reject a non-PENDING intent")
	}
}

func TestUpdate_ForwardPath(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	intent := newTestIntent("BTCUSDT")
	if err := s.Append(ctx, intent); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	steps := []struct {
		state  domain.State
		fields domain.IntentUpdate
	}{
		{domain.StateExecuting, domain.IntentUpdate{}},
		{domain.StateExecuted, domain.IntentUpdate{OrderRef: "ord-1"}},
		{domain.StateRecording, domain.IntentUpdate{}},
		{domain.StateConfirmed, domain.IntentUpdate{LedgerRef: "sig-1"}},
	}
	for _, step := range steps {
		if err := s.Update(ctx, intent.ID, step.state, step.fields); err != nil {
			t.Fatalf("Update to %s failed: %v", step.state, err)
		}
	}

	final, err := s.Get(ctx, intent.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if final.State != domain.StateConfirmed {
		t.Errorf("State = %s, want CONFIRMED", final.State)
	}
	if final.OrderRef != "ord-1" || final.LedgerRef != "sig-1" {
		t.Errorf("refs = %q/%q, want ord-1/sig-1", final.OrderRef, final.LedgerRef)
	}
}

func TestUpdate_RejectsRegression(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	intent := newTestIntent("BTCUSDT")
	s.Append(ctx, intent)
	s.Update(ctx, intent.ID, domain.StateExecuting, domain.IntentUpdate{})

	t.Run("backward", func(t *testing.T) {
		err := s.Update(ctx, intent.ID, domain.StatePending, domain.IntentUpdate{})
		if !errors.Is(err, domain.ErrStateRegression) {
			t.Errorf("got %v, want ErrStateRegression", err)
		}
	})

	t.Run("skip a step", func(t *testing.T) {
		err := s.Update(ctx, intent.ID, domain.StateRecording, domain.IntentUpdate{})
		if !errors.Is(err, domain.ErrStateRegression) {
			t.Errorf("got %v, want ErrStateRegression", err)
		}
	})

	t.Run("out of terminal", func(t *testing.T) {
		s.Update(ctx, intent.ID, domain.StateFailed, domain.IntentUpdate{FailureReason: "rejected"})
		err := s.Update(ctx, intent.ID, domain.StateExecuting, domain.IntentUpdate{})
		if !errors.Is(err, domain.ErrStateRegression) {
			t.Errorf("got %v, want ErrStateRegression", err)
		}
	})
}

func TestUpdate_RefsAreWriteOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	intent := newTestIntent("BTCUSDT")
	s.Append(ctx, intent)
	s.Update(ctx, intent.ID, domain.StateExecuting, domain.IntentUpdate{})
	if err := s.Update(ctx, intent.ID, domain.StateExecuted, domain.IntentUpdate{OrderRef: "ord-1"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// Same value is idempotent, a different one is not.
	if err := s.Update(ctx, intent.ID, domain.StateRecording, domain.IntentUpdate{OrderRef: "ord-1"}); err != nil {
		t.Errorf("re-applying the same orderRef should pass: %v", err)
	}
	err := s.Update(ctx, intent.ID, domain.StateConfirmed, domain.IntentUpdate{OrderRef: "ord-2", LedgerRef: "sig-1"})
	if !errors.Is(err, domain.ErrRefImmutable) {
		t.Errorf("got %v, want ErrRefImmutable", err)
	}
}

func TestListNonTerminal(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	pending := newTestIntent("BTCUSDT")
	s.Append(ctx, pending)

	done := newTestIntent("ETHUSDT")
	s.Append(ctx, done)
	s.Update(ctx, done.ID, domain.StateFailed, domain.IntentUpdate{FailureReason: "rejected"})

	stuck := newTestIntent("SOLUSDT")
	s.Append(ctx, stuck)
	s.Update(ctx, stuck.ID, domain.StateExecuting, domain.IntentUpdate{})
	s.Update(ctx, stuck.ID, domain.StateReconciliationRequired, domain.IntentUpdate{FailureReason: "submit timeout"})

	list, err := s.ListNonTerminal(ctx)
	if err != nil {
		t.Fatalf("ListNonTerminal failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d intents, want 2", len(list))
	}
	for _, it := range list {
		if it.ID == done.ID {
			t.Errorf("terminal intent %s should not be listed", it.ID)
		}
	}
}

func TestIncrementReconcilePasses(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	intent := newTestIntent("BTCUSDT")
	s.Append(ctx, intent)

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementReconcilePasses(ctx, intent.ID)
		if err != nil {
			t.Fatalf("IncrementReconcilePasses failed: %v", err)
		}
		if got != want {
			t.Errorf("passes = %d, want %d", got, want)
		}
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const n = 8
	intents := make([]*domain.TradeIntent, n)
	for i := range intents {
		intents[i] = newTestIntent("BTCUSDT")
		if err := s.Append(ctx, intents[i]); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, it := range intents {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Update(ctx, id, domain.StateExecuting, domain.IntentUpdate{})
			s.Update(ctx, id, domain.StateExecuted, domain.IntentUpdate{OrderRef: "ord-" + id})
		}(it.ID)
	}
	wg.Wait()

	for _, it := range intents {
		got, err := s.Get(ctx, it.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.State != domain.StateExecuted {
			t.Errorf("intent %s: State = %s, want EXECUTED", it.ID, got.State)
		}
		if got.OrderRef != "ord-"+it.ID {
			t.Errorf("intent %s: OrderRef = %q, cross-record corruption?", it.ID, got.OrderRef)
		}
	}
}

func TestJournalImplementsInterface(t *testing.T) {
	var _ domain.Journal = (*Store)(nil)
}
