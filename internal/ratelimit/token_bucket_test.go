package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func drain(t *testing.T, b *TokenBucket) {
	t.Helper()
	for i := 0; i < b.Capacity(); i++ {
		b.RecordRequest()
	}
	if !b.IsRateLimited() {
		t.Fatalf("expected drained bucket to be limited, %d tokens left", b.Tokens())
	}
}

func TestNewTokenBucketValidatesArguments(t *testing.T) {
	if _, err := NewTokenBucket(0, time.Minute); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
	if _, err := NewTokenBucket(5, 0); err == nil {
		t.Fatalf("expected error for zero window")
	}
	b, err := NewTokenBucket(5, time.Minute)
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	if b.Capacity() != 5 || b.Tokens() != 5 {
		t.Fatalf("expected a full bucket of 5, got capacity %d tokens %d", b.Capacity(), b.Tokens())
	}
}

func TestTokenBucketLimitsAfterCapacityAndRecoversAfterWindow(t *testing.T) {
	clk := newClock()
	b, err := NewTokenBucket(10, time.Minute, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}

	for i := 0; i < 11; i++ {
		b.RecordRequest()
	}
	if !b.IsRateLimited() {
		t.Fatalf("expected limit after 11 requests")
	}
	if got := b.Tokens(); got != 0 {
		t.Fatalf("bucket must never go negative, got %d", got)
	}

	clk.Advance(time.Minute)
	if b.IsRateLimited() {
		t.Fatalf("expected recovery after one window")
	}
	if got := b.Tokens(); got != 10 {
		t.Fatalf("expected 10 tokens after one window, got %d", got)
	}
}

func TestTokenBucketRefillIsFlooredAndCapped(t *testing.T) {
	clk := newClock()
	// 6 tokens per minute, one token every 10s.
	b, err := NewTokenBucket(6, time.Minute, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	drain(t, b)

	clk.Advance(9 * time.Second)
	if !b.IsRateLimited() {
		t.Fatalf("partial token must not be granted")
	}

	clk.Advance(2 * time.Second)
	if got := b.Tokens(); got != 1 {
		t.Fatalf("expected 1 token after 11s, got %d", got)
	}

	clk.Advance(time.Hour)
	if got := b.Tokens(); got != 6 {
		t.Fatalf("refill is capped at capacity, got %d", got)
	}
}

func TestTokenBucketPartialRefillAccumulatesAcrossChecks(t *testing.T) {
	clk := newClock()
	b, err := NewTokenBucket(6, time.Minute, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	drain(t, b)
	for i := 0; i < 4; i++ {
		clk.Advance(2 * time.Second)
		if !b.IsRateLimited() {
			t.Fatalf("expected limit %ds after draining", 2*(i+1))
		}
	}
	clk.Advance(3 * time.Second)
	if b.IsRateLimited() {
		t.Fatalf("expected a token 11s after draining")
	}
}

func TestTokenBucketKeepsRemainderAfterConsuming(t *testing.T) {
	clk := newClock()
	b, err := NewTokenBucket(6, time.Minute, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}
	drain(t, b)

	// 15s earns 1.5 tokens; the half token survives the spend.
	clk.Advance(15 * time.Second)
	if !b.Allow() {
		t.Fatalf("expected one token after 15s")
	}
	if b.Allow() {
		t.Fatalf("only one whole token was available")
	}
	clk.Advance(6 * time.Second)
	if !b.Allow() {
		t.Fatalf("expected the carried half token plus 6s to make a whole token")
	}
}

func TestTokenBucketAllowIsExclusive(t *testing.T) {
	clk := newClock()
	b, err := NewTokenBucket(20, time.Hour, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("new bucket: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 20 {
		t.Fatalf("expected exactly 20 grants, got %d", granted)
	}
	if !b.IsRateLimited() {
		t.Fatalf("expected limit once capacity is spent")
	}
}
