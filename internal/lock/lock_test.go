package lock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestKeyNamespaces(t *testing.T) {
	if got := WalletKey("u1"); got != "lock:wallet:u1" {
		t.Fatalf("wallet key: %s", got)
	}
	if got := BuyAssetKey("u1"); got != "lock:buy-asset:u1" {
		t.Fatalf("buy asset key: %s", got)
	}
	if got := SellAssetKey("u1"); got != "lock:sell-asset:u1" {
		t.Fatalf("sell asset key: %s", got)
	}
	if got := TradeKey("u1", "gold"); got != "lock:trade:u1:gold" {
		t.Fatalf("trade key: %s", got)
	}
}

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("RUN_REDIS_INTEGRATION") == "" {
		t.Skip("set RUN_REDIS_INTEGRATION=1 to run")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis connection failed: %v", err)
	}
	return client
}

func TestAcquireIsExclusive(t *testing.T) {
	client := testClient(t)
	defer client.Close()
	ctx := context.Background()
	l := New(client)
	key := WalletKey("lock-test-exclusive")
	defer client.Del(ctx, key)

	token, err := l.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if token == "" {
		t.Fatal("expected token on free lock")
	}
	second, err := l.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if second != "" {
		t.Fatal("expected held lock to return empty token")
	}
	ok, err := l.Release(ctx, key, token)
	if err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
}

func TestReleaseNeedsMatchingToken(t *testing.T) {
	client := testClient(t)
	defer client.Close()
	ctx := context.Background()
	l := New(client)
	key := WalletKey("lock-test-token")
	defer client.Del(ctx, key)

	token, err := l.Acquire(ctx, key, 5*time.Second)
	if err != nil || token == "" {
		t.Fatalf("acquire: token=%q err=%v", token, err)
	}
	ok, err := l.Release(ctx, key, "stale-token")
	if err != nil {
		t.Fatalf("release stale: %v", err)
	}
	if ok {
		t.Fatal("stale token must not release the lock")
	}
	ok, err = l.Release(ctx, key, token)
	if err != nil || !ok {
		t.Fatalf("release own: ok=%v err=%v", ok, err)
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	client := testClient(t)
	defer client.Close()
	ctx := context.Background()
	l := New(client)
	key := WalletKey("lock-test-race")
	defer client.Del(ctx, key)

	const n = 16
	var wg sync.WaitGroup
	tokens := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := l.Acquire(ctx, key, 5*time.Second)
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			tokens[i] = tok
		}(i)
	}
	wg.Wait()
	winners := 0
	for _, tok := range tokens {
		if tok != "" {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}
