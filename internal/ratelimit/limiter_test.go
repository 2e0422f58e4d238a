package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter connects to a local Redis. Tests are skipped when Redis is
// not available.
func newTestLimiter(t *testing.T) (*Limiter, *redis.Client) {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid conflicts
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return NewLimiter(client), client
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: 10 * time.Second}

	for i := 0; i < rule.Limit; i++ {
		allowed, err := l.Allow(ctx, "user1", rule)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("Allow #%d: expected allowed within limit", i+1)
		}
	}

	allowed, err := l.Allow(ctx, "user1", rule)
	if err != nil {
		t.Fatalf("Allow over limit: %v", err)
	}
	if allowed {
		t.Fatal("expected rate limited after exceeding limit")
	}
}

func TestAllowIsPerIdentifier(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 10 * time.Second}

	if allowed, _ := l.Allow(ctx, "user1", rule); !allowed {
		t.Fatal("user1 first action should be allowed")
	}
	if allowed, _ := l.Allow(ctx, "user1", rule); allowed {
		t.Fatal("user1 second action should be limited")
	}

	// A different identifier has its own counter.
	if allowed, _ := l.Allow(ctx, "user2", rule); !allowed {
		t.Fatal("user2 first action should be allowed")
	}
}

func TestWindowExpires(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Second}

	if allowed, _ := l.Allow(ctx, "user1", rule); !allowed {
		t.Fatal("first action should be allowed")
	}
	if allowed, _ := l.Allow(ctx, "user1", rule); allowed {
		t.Fatal("second action should be limited")
	}

	time.Sleep(1100 * time.Millisecond)

	if allowed, _ := l.Allow(ctx, "user1", rule); !allowed {
		t.Fatal("action after window expiry should be allowed")
	}
}

func TestRemaining(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 5, Window: 10 * time.Second}

	remaining, err := l.Remaining(ctx, "user1", rule)
	if err != nil {
		t.Fatalf("Remaining before any action: %v", err)
	}
	if remaining != rule.Limit {
		t.Fatalf("expected full limit %d, got %d", rule.Limit, remaining)
	}

	for i := 0; i < 2; i++ {
		if _, err := l.Allow(ctx, "user1", rule); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}

	remaining, err = l.Remaining(ctx, "user1", rule)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 3 {
		t.Fatalf("expected 3 remaining, got %d", remaining)
	}

	// Exhaust and overshoot: remaining clamps at zero.
	for i := 0; i < 5; i++ {
		l.Allow(ctx, "user1", rule)
	}
	remaining, err = l.Remaining(ctx, "user1", rule)
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", remaining)
	}
}

func TestAllowFailsOpenOnRedisError(t *testing.T) {
	// A client pointed at a closed port errors on every command.
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:1",
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()
	l := NewLimiter(client)

	allowed, err := l.Allow(context.Background(), "user1", RuleMessage)
	if err == nil {
		t.Fatal("expected a redis error")
	}
	if !allowed {
		t.Fatal("expected fail-open: action allowed despite redis error")
	}

	remaining, err := l.Remaining(context.Background(), "user1", RuleMessage)
	if err == nil {
		t.Fatal("expected a redis error")
	}
	if remaining != RuleMessage.Limit {
		t.Fatalf("expected full limit on error, got %d", remaining)
	}
}

func TestStandardRules(t *testing.T) {
	for _, tt := range []struct {
		rule  Rule
		limit int
	}{
		{RuleMessage, 10},
		{RuleTyping, 30},
		{RuleConnect, 10},
	} {
		if tt.rule.Limit != tt.limit {
			t.Errorf("rule %s: expected limit %d, got %d", tt.rule.Key, tt.limit, tt.rule.Limit)
		}
		if tt.rule.Window <= 0 {
			t.Errorf("rule %s: window must be positive", tt.rule.Key)
		}
		if tt.rule.Key == "" {
			t.Error("rule key must be non-empty")
		}
	}
}
