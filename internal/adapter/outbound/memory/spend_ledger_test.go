package memory

import (
	"context"
	"testing"
	"time"
)

func TestMemorySpendLedger_CheckAndIncrement(t *testing.T) {
	t.Parallel()
	l := NewSpendLedger()
	ctx := context.Background()

	ok, total, err := l.CheckAndIncrement(ctx, "spend:tok1:daily", 5, 10, time.Hour)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if total != 5 {
		t.Errorf("total = %v, want 5", total)
	}

	ok, total, err = l.CheckAndIncrement(ctx, "spend:tok1:daily", 4, 10, time.Hour)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if total != 9 {
		t.Errorf("total = %v, want 9", total)
	}

	ok, total, err = l.CheckAndIncrement(ctx, "spend:tok1:daily", 2, 10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected rejection: 9+2 > 10")
	}
	if total != 9 {
		t.Errorf("rejected increment must not change the counter: got %v", total)
	}
}

func TestMemorySpendLedger_Peek(t *testing.T) {
	t.Parallel()
	l := NewSpendLedger()
	ctx := context.Background()

	if v, err := l.Peek(ctx, "missing"); err != nil || v != 0 {
		t.Fatalf("v=%v err=%v, want 0,nil", v, err)
	}

	l.CheckAndIncrement(ctx, "k", 3, 100, time.Hour)
	v, err := l.Peek(ctx, "k")
	if err != nil || v != 3 {
		t.Fatalf("v=%v err=%v, want 3,nil", v, err)
	}
}

func TestMemorySpendLedger_TTLExpiry(t *testing.T) {
	t.Parallel()
	l := NewSpendLedger()
	ctx := context.Background()

	l.CheckAndIncrement(ctx, "k", 3, 100, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	v, err := l.Peek(ctx, "k")
	if err != nil || v != 0 {
		t.Fatalf("expected expired counter to read as 0, got v=%v err=%v", v, err)
	}
}

func TestMemorySpendLedger_LifetimeNeverExpires(t *testing.T) {
	t.Parallel()
	l := NewSpendLedger()
	ctx := context.Background()

	l.CheckAndIncrement(ctx, "k", 3, 100, 0)
	time.Sleep(10 * time.Millisecond)

	v, _ := l.Peek(ctx, "k")
	if v != 3 {
		t.Errorf("lifetime counter should not expire, got %v", v)
	}
}

func TestMemorySpendLedger_CleanupRemovesExpired(t *testing.T) {
	t.Parallel()
	l := NewSpendLedger()
	l.cleanupInterval = 10 * time.Millisecond
	ctx := context.Background()

	l.CheckAndIncrement(ctx, "expiring", 1, 100, 5*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	l.cleanup()

	if l.Size() != 0 {
		t.Errorf("expected expired counter to be swept, size = %d", l.Size())
	}
}
