package ratelimiter

import (
	"context"
	"testing"
	"time"
)

func TestLocalAcquireWithinCapacitySucceeds(t *testing.T) {
	l := NewLocal(Config{Capacity: 3, RefillRate: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.Acquire(ctx, "phone-1", 1)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}

	ok, wait, err := l.Acquire(ctx, "phone-1", 1)
	if err != nil || ok {
		t.Fatalf("4th acquire should fail once bucket is exhausted, got ok=%v err=%v", ok, err)
	}
	if wait <= 0 {
		t.Fatalf("expected a positive wait hint once the bucket is exhausted, got %v", wait)
	}
}

func TestLocalBucketsAreIndependentPerKey(t *testing.T) {
	l := NewLocal(Config{Capacity: 1, RefillRate: 1})
	ctx := context.Background()

	ok, _, _ := l.Acquire(ctx, "phone-1", 1)
	if !ok {
		t.Fatal("expected first acquire on phone-1 to succeed")
	}
	ok, _, _ = l.Acquire(ctx, "phone-2", 1)
	if !ok {
		t.Fatal("phone-2's bucket should be unaffected by phone-1's consumption")
	}
}

func TestLocalGlobalBucketGatesAllKeys(t *testing.T) {
	l := NewLocal(Config{Capacity: 100, RefillRate: 100, GlobalCapacity: 1, GlobalRefillRate: 1})
	ctx := context.Background()

	ok, _, _ := l.Acquire(ctx, "phone-1", 1)
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	ok, _, _ = l.Acquire(ctx, "phone-2", 1)
	if ok {
		t.Fatal("expected second acquire to be blocked by the exhausted global bucket")
	}
}

func TestLocalRefillOverTime(t *testing.T) {
	l := NewLocal(Config{Capacity: 1, RefillRate: 1000})
	ctx := context.Background()

	ok, _, _ := l.Acquire(ctx, "phone-1", 1)
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	time.Sleep(5 * time.Millisecond)
	ok, _, _ = l.Acquire(ctx, "phone-1", 1)
	if !ok {
		t.Fatal("expected bucket to have refilled after 5ms at 1000 tokens/sec")
	}
}

func TestLocalPenalizeStarvesBucket(t *testing.T) {
	l := NewLocal(Config{Capacity: 10, RefillRate: 1000})
	ctx := context.Background()

	l.Penalize(ctx, "phone-1", 50*time.Millisecond)

	ok, _, _ := l.Acquire(ctx, "phone-1", 1)
	if ok {
		t.Fatal("expected penalized bucket to reject an immediate acquire")
	}
	time.Sleep(60 * time.Millisecond)
	ok, _, _ = l.Acquire(ctx, "phone-1", 1)
	if !ok {
		t.Fatal("expected bucket to accept again once the penalty window has elapsed")
	}
}

func TestLocalResetRestoresCapacity(t *testing.T) {
	l := NewLocal(Config{Capacity: 1, RefillRate: 0})
	ctx := context.Background()

	l.Acquire(ctx, "phone-1", 1)
	l.Reset("phone-1")
	ok, _, _ := l.Acquire(ctx, "phone-1", 1)
	if !ok {
		t.Fatal("expected Reset to restore full capacity")
	}
}
